package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"canvas-collab/core"
	"canvas-collab/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// DefaultListLimit caps ListSince when the caller passes no limit.
const DefaultListLimit = 100

const defaultMaxAttempts = 5

// Sequencer assigns each op its project-scoped, strictly increasing
// index and persists it. Contention on the counter transaction is
// retried internally with backoff; only persistent contention surfaces,
// as core.ErrUnavailable.
type Sequencer struct {
	ops         core.OpStore
	clock       core.Clock
	maxAttempts int
}

func NewSequencer(ops core.OpStore, clock core.Clock) *Sequencer {
	return &Sequencer{ops: ops, clock: clock, maxAttempts: defaultMaxAttempts}
}

// Append validates and sequences a draft. When the draft carries a
// request id that was already sequenced for this project, the original
// op is returned without writing anything: retries are at-most-once.
func (s *Sequencer) Append(ctx context.Context, projectID, actorID string, draft *core.OpDraft) (*core.Op, error) {
	if err := core.ValidateDraft(draft); err != nil {
		return nil, err
	}

	op := &core.Op{
		ID:         ulid.Make().String(),
		ProjectID:  projectID,
		Type:       draft.Type,
		ElementID:  draft.ElementID,
		ElementIDs: draft.ElementIDs,
		Data:       draft.Data,
		ActorID:    actorID,
		RequestID:  draft.RequestID,
		ClientTS:   draft.ClientTS,
		CreatedAt:  s.clock(),
	}

	log := logrus.WithFields(logrus.Fields{
		"project_id": projectID,
		"op_type":    draft.Type,
	})

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if draft.RequestID != "" {
			existing, err := s.ops.FindOpByRequestID(ctx, projectID, draft.RequestID)
			if err == nil {
				log.WithFields(logrus.Fields{
					"request_id": draft.RequestID,
					"op_index":   existing.OpIndex,
				}).Debug("Request already sequenced, returning original op")
				return existing, nil
			}
			if !errors.Is(err, core.ErrNotFound) {
				return nil, err
			}
		}

		index, err := s.ops.AppendOp(ctx, op)
		if err == nil {
			op.OpIndex = index
			metrics.OpsAppended.WithLabelValues(string(op.Type)).Inc()
			return op, nil
		}
		if !errors.Is(err, core.ErrConflict) {
			return nil, err
		}

		metrics.SequencerRetries.Inc()
		log.WithField("attempt", attempt+1).Debug("Sequencing transaction contended, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("sequencing contended after %d attempts: %w", s.maxAttempts, core.ErrUnavailable)
}

// ListSince returns ops with opIndex >= fromIndex, ascending, capped at
// limit (DefaultListLimit when limit <= 0). Clients use it to catch up
// after reconnecting.
func (s *Sequencer) ListSince(ctx context.Context, projectID string, fromIndex int64, limit int) ([]*core.Op, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.ops.ListOpsSince(ctx, projectID, fromIndex, limit)
}

// FindByRequestID reports whether a request was already applied,
// without re-deriving its effects. Returns (nil, nil) when unknown.
func (s *Sequencer) FindByRequestID(ctx context.Context, projectID, requestID string) (*core.Op, error) {
	op, err := s.ops.FindOpByRequestID(ctx, projectID, requestID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return op, err
}
