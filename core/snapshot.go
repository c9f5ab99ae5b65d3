package core

import (
	"context"
	"time"
)

// SnapshotFormatVersion is bumped when the serialized element shape changes.
const SnapshotFormatVersion = 1

// CurrentSnapshotIndex is the sentinel opIndex of the rolling "current"
// snapshot slot, which is overwritten on every continuous checkpoint.
const CurrentSnapshotIndex int64 = -1

type (
	// Snapshot is a cached materialization of the element set as of a
	// specific opIndex. A read-path optimization only: it never shrinks
	// or compacts the op log.
	Snapshot struct {
		ProjectID string              `json:"projectId"`
		OpIndex   int64               `json:"opIndex"`
		Elements  map[string]*Element `json:"elements"`
		Version   int                 `json:"version"`
		CreatedAt time.Time           `json:"createdAt"`
	}

	SnapshotStore interface {
		// SaveSnapshot upserts by (projectID, opIndex). Indexed snapshots
		// are superseded, never deleted; the current slot is overwritten.
		SaveSnapshot(ctx context.Context, s *Snapshot) error

		// GetSnapshot returns the nearest indexed snapshot with
		// opIndex <= atIndex.
		GetSnapshot(ctx context.Context, projectID string, atIndex int64) (*Snapshot, error)

		// GetLatestSnapshot returns the highest-indexed snapshot,
		// preferring indexed checkpoints over the current slot.
		GetLatestSnapshot(ctx context.Context, projectID string) (*Snapshot, error)
	}
)
