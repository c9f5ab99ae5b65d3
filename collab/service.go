package collab

import (
	"context"
	"fmt"

	"canvas-collab/core"
	"canvas-collab/metrics"

	"github.com/sirupsen/logrus"
)

// Broadcaster pushes committed ops to connected clients. Nil-safe no-op
// when realtime is not wired.
type Broadcaster interface {
	BroadcastOp(projectID string, op *core.Op)
}

// Service ties the engine together for the request path:
// guard -> previous-state capture -> sequence -> materialize. The
// response carries the assigned index; snapshot checkpoints and
// realtime fan-out ride along.
type Service struct {
	guard       *Guard
	sequencer   *Sequencer
	mat         *Materializer
	snapshotter *Snapshotter
	elements    core.ElementStore
	broadcast   Broadcaster
}

func NewService(guard *Guard, sequencer *Sequencer, mat *Materializer, snapshotter *Snapshotter, elements core.ElementStore, broadcast Broadcaster) *Service {
	return &Service{
		guard:       guard,
		sequencer:   sequencer,
		mat:         mat,
		snapshotter: snapshotter,
		elements:    elements,
		broadcast:   broadcast,
	}
}

func (s *Service) Guard() *Guard             { return s.guard }
func (s *Service) Sequencer() *Sequencer     { return s.sequencer }
func (s *Service) Snapshotter() *Snapshotter { return s.snapshotter }

// AppendOp runs the full append pipeline for one draft. A
// materialization failure after the op is durably sequenced does not
// fail the call: the projection is re-derivable from the log, so the
// client still gets its definitive index while the drift is surfaced to
// operators.
func (s *Service) AppendOp(ctx context.Context, projectID, actorID string, draft *core.OpDraft) (*core.Op, error) {
	if _, err := s.guard.CheckEdit(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	if err := core.ValidateDraft(draft); err != nil {
		return nil, err
	}

	// Replays must not re-capture state or re-materialize.
	if draft.RequestID != "" {
		if existing, err := s.sequencer.FindByRequestID(ctx, projectID, draft.RequestID); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	if err := s.stampPrevious(ctx, projectID, draft); err != nil {
		return nil, err
	}

	op, err := s.sequencer.Append(ctx, projectID, actorID, draft)
	if err != nil {
		return nil, err
	}

	if err := s.mat.Apply(ctx, op); err != nil {
		metrics.MaterializeFailures.Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"project_id": projectID,
			"op_id":      op.ID,
			"op_index":   op.OpIndex,
		}).Error("Materialization failed after durable append; projection behind log")
	} else {
		if s.broadcast != nil {
			s.broadcast.BroadcastOp(projectID, op)
		}
		s.snapshotter.MaybeCheckpoint(ctx, projectID, op.OpIndex)
	}

	return op, nil
}

// Undo computes the inverse of a sequenced op and appends it as a
// normal, logged, materialized operation. Never a log rewrite.
func (s *Service) Undo(ctx context.Context, projectID, actorID, opID, requestID string) (*core.Op, error) {
	if _, err := s.guard.CheckEdit(ctx, projectID, actorID); err != nil {
		return nil, err
	}

	op, err := s.sequencer.ops.GetOp(ctx, projectID, opID)
	if err != nil {
		return nil, err
	}
	inverse, err := core.InvertOp(op)
	if err != nil {
		return nil, err
	}
	if inverse == nil {
		return nil, fmt.Errorf("%w: op %s has no recorded previous state", core.ErrValidation, opID)
	}
	inverse.RequestID = requestID
	return s.AppendOp(ctx, projectID, actorID, inverse)
}

// stampPrevious captures pre-op element snapshots onto the draft so the
// op stays invertible after the fact.
func (s *Service) stampPrevious(ctx context.Context, projectID string, draft *core.OpDraft) error {
	targets := draft.Targets()
	if len(targets) == 0 {
		return core.StampPreviousState(draft, nil)
	}
	current, err := s.elements.GetElements(ctx, projectID, targets)
	if err != nil {
		return err
	}
	return core.StampPreviousState(draft, current)
}
