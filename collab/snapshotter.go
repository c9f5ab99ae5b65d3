package collab

import (
	"context"
	"errors"
	"fmt"

	"canvas-collab/core"
	"canvas-collab/metrics"

	"github.com/sirupsen/logrus"
)

// DefaultCheckpointEvery is how many ops pass between automatic
// checkpoints on the append path.
const DefaultCheckpointEvery = 50

// Snapshotter persists point-in-time materializations of the element
// set so new clients can bootstrap without replaying the whole log.
// Snapshots are a read-path optimization only: the log stays the
// durable source of truth and is never compacted.
type Snapshotter struct {
	projects core.ProjectStore
	ops      core.OpStore
	elements core.ElementStore
	snaps    core.SnapshotStore
	clock    core.Clock
	every    int64
}

func NewSnapshotter(projects core.ProjectStore, ops core.OpStore, elements core.ElementStore, snaps core.SnapshotStore, clock core.Clock, every int64) *Snapshotter {
	if every <= 0 {
		every = DefaultCheckpointEvery
	}
	return &Snapshotter{projects: projects, ops: ops, elements: elements, snaps: snaps, clock: clock, every: every}
}

// Save persists a pinned checkpoint. The element set and its index tag
// are both derived from the log via Rebuild, so a save racing an append
// can never store head state under a stale index; replaying the tail
// onto the snapshot stays idempotent.
func (s *Snapshotter) Save(ctx context.Context, projectID string) (*core.Snapshot, error) {
	elements, applied, err := s.Rebuild(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if applied < 0 {
		return nil, fmt.Errorf("project %s has no ops to snapshot: %w", projectID, core.ErrValidation)
	}
	snap := &core.Snapshot{
		ProjectID: projectID,
		OpIndex:   applied,
		Elements:  elements,
		Version:   core.SnapshotFormatVersion,
		CreatedAt: s.clock(),
	}
	if err := s.snaps.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	metrics.SnapshotsSaved.Inc()

	p, err := s.projects.GetProject(ctx, projectID)
	if err == nil {
		p.LastSnapshotIndex = applied
		p.LastSnapshotAt = snap.CreatedAt
		if err := s.projects.UpdateProject(ctx, p); err != nil {
			logrus.WithError(err).WithField("project_id", projectID).Warn("Failed to stamp snapshot bookkeeping")
		}
	}
	return snap, nil
}

// SaveCurrent serializes the live projection into the fixed "current"
// slot. The slot claims no log position (readers resolve one through
// Rebuild), so it may lag the log without breaking replay.
func (s *Snapshotter) SaveCurrent(ctx context.Context, projectID string) (*core.Snapshot, error) {
	list, err := s.elements.ListElements(ctx, projectID)
	if err != nil {
		return nil, err
	}
	elements := make(map[string]*core.Element, len(list))
	for _, e := range list {
		elements[e.ID] = e
	}
	snap := &core.Snapshot{
		ProjectID: projectID,
		OpIndex:   core.CurrentSnapshotIndex,
		Elements:  elements,
		Version:   core.SnapshotFormatVersion,
		CreatedAt: s.clock(),
	}
	if err := s.snaps.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	metrics.SnapshotsSaved.Inc()
	return snap, nil
}

// Load returns the nearest usable snapshot with opIndex <= atIndex.
func (s *Snapshotter) Load(ctx context.Context, projectID string, atIndex int64) (*core.Snapshot, error) {
	return s.snaps.GetSnapshot(ctx, projectID, atIndex)
}

// LoadLatest returns the most recent snapshot of any kind.
func (s *Snapshotter) LoadLatest(ctx context.Context, projectID string) (*core.Snapshot, error) {
	return s.snaps.GetLatestSnapshot(ctx, projectID)
}

// MaybeCheckpoint saves a pinned checkpoint when the append path
// crosses a checkpoint interval boundary. The saved index comes from
// the log, not from opIndex, so a racing append only moves the
// checkpoint forward.
func (s *Snapshotter) MaybeCheckpoint(ctx context.Context, projectID string, opIndex int64) {
	if opIndex <= 0 || opIndex%s.every != 0 {
		return
	}
	if _, err := s.Save(ctx, projectID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"project_id": projectID,
			"op_index":   opIndex,
		}).Warn("Checkpoint snapshot failed")
	}
}

// Rebuild reconstructs the element set at the head of the log: nearest
// snapshot first, then every op after it, applied in order. This is the
// recovery path for a projection that fell behind the log, and the
// reference implementation of the replay invariant.
func (s *Snapshotter) Rebuild(ctx context.Context, projectID string) (map[string]*core.Element, int64, error) {
	elements := make(map[string]*core.Element)
	from := int64(0)

	head, err := s.ops.CurrentOpIndex(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}
	if head >= 0 {
		snap, err := s.snaps.GetSnapshot(ctx, projectID, head)
		if err == nil {
			for id, e := range snap.Elements {
				elements[id] = e.Clone()
			}
			from = snap.OpIndex + 1
		} else if !errors.Is(err, core.ErrNotFound) {
			return nil, 0, err
		}
	}

	applied := from - 1
	for {
		ops, err := s.ops.ListOpsSince(ctx, projectID, from, DefaultListLimit)
		if err != nil {
			return nil, 0, err
		}
		if len(ops) == 0 {
			break
		}
		for _, op := range ops {
			if _, err := core.ApplyOp(elements, op, s.clock()); err != nil {
				return nil, 0, err
			}
			applied = op.OpIndex
		}
		from = ops[len(ops)-1].OpIndex + 1
	}
	return elements, applied, nil
}
