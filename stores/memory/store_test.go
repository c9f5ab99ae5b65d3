package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"canvas-collab/core"
)

func testOp(projectID, opID, requestID string) *core.Op {
	return &core.Op{
		ID:        opID,
		ProjectID: projectID,
		Type:      core.OpMove,
		ElementID: "el-1",
		ActorID:   "user-1",
		RequestID: requestID,
	}
}

func TestAppendOp_AssignsSequentialIndexes(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		index, err := store.AppendOp(ctx, testOp("proj-1", fmt.Sprintf("op-%d", i), ""))
		if err != nil {
			t.Fatalf("AppendOp() failed: %v", err)
		}
		if index != int64(i) {
			t.Errorf("Index mismatch: got %d, want %d", index, i)
		}
	}

	head, err := store.CurrentOpIndex(ctx, "proj-1")
	if err != nil {
		t.Fatalf("CurrentOpIndex() failed: %v", err)
	}
	if head != 4 {
		t.Errorf("CurrentOpIndex mismatch: got %d, want 4", head)
	}
}

func TestAppendOp_IndexesArePerProject(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.AppendOp(ctx, testOp("proj-1", "op-a", "")); err != nil {
		t.Fatalf("AppendOp() failed: %v", err)
	}
	index, err := store.AppendOp(ctx, testOp("proj-2", "op-b", ""))
	if err != nil {
		t.Fatalf("AppendOp() failed: %v", err)
	}
	if index != 0 {
		t.Errorf("Second project should start at 0, got %d", index)
	}
}

func TestAppendOp_DuplicateRequestID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.AppendOp(ctx, testOp("proj-1", "op-1", "req-1")); err != nil {
		t.Fatalf("AppendOp() failed: %v", err)
	}
	_, err := store.AppendOp(ctx, testOp("proj-1", "op-2", "req-1"))
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate request id, got %v", err)
	}

	found, err := store.FindOpByRequestID(ctx, "proj-1", "req-1")
	if err != nil {
		t.Fatalf("FindOpByRequestID() failed: %v", err)
	}
	if found.ID != "op-1" {
		t.Errorf("Original op should win: got %q", found.ID)
	}
}

func TestAppendOp_ConcurrentGapless(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	numGoroutines := 25
	var wg sync.WaitGroup
	indexesMutex := sync.Mutex{}
	indexes := make([]int64, 0, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			index, err := store.AppendOp(ctx, testOp("proj-1", fmt.Sprintf("op-%d", n), ""))
			if err != nil {
				t.Errorf("Concurrent AppendOp() failed: %v", err)
				return
			}
			indexesMutex.Lock()
			indexes = append(indexes, index)
			indexesMutex.Unlock()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, idx := range indexes {
		if seen[idx] {
			t.Errorf("Duplicate index assigned: %d", idx)
		}
		seen[idx] = true
	}
	for i := int64(0); i < int64(numGoroutines); i++ {
		if !seen[i] {
			t.Errorf("Gap in assigned indexes: missing %d", i)
		}
	}
}

func TestListOpsSince_RangeScan(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := store.AppendOp(ctx, testOp("proj-1", fmt.Sprintf("op-%d", i), "")); err != nil {
			t.Fatalf("AppendOp() failed: %v", err)
		}
	}

	ops, err := store.ListOpsSince(ctx, "proj-1", 4, 3)
	if err != nil {
		t.Fatalf("ListOpsSince() failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("Expected 3 ops, got %d", len(ops))
	}
	for i, op := range ops {
		want := int64(4 + i)
		if op.OpIndex != want {
			t.Errorf("Op %d index mismatch: got %d, want %d", i, op.OpIndex, want)
		}
	}

	empty, err := store.ListOpsSince(ctx, "proj-1", 100, 10)
	if err != nil {
		t.Fatalf("ListOpsSince() failed past the head: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no ops past the head, got %d", len(empty))
	}
}

func TestCurrentOpIndex_EmptyLog(t *testing.T) {
	store := NewStore()

	head, err := store.CurrentOpIndex(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("CurrentOpIndex() failed: %v", err)
	}
	if head != -1 {
		t.Errorf("Empty log head mismatch: got %d, want -1", head)
	}
}

func TestGetOp_NotFound(t *testing.T) {
	store := NewStore()

	_, err := store.GetOp(context.Background(), "proj-1", "nope")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestApplyElementChanges_Batch(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	upserts := []*core.Element{
		{ID: "el-1", ProjectID: "proj-1", Type: core.ElementShape, X: 1},
		{ID: "el-2", ProjectID: "proj-1", Type: core.ElementText},
	}
	if err := store.ApplyElementChanges(ctx, "proj-1", upserts, nil); err != nil {
		t.Fatalf("ApplyElementChanges() failed: %v", err)
	}

	if err := store.ApplyElementChanges(ctx, "proj-1",
		[]*core.Element{{ID: "el-3", ProjectID: "proj-1", Type: core.ElementShape}},
		[]string{"el-1"},
	); err != nil {
		t.Fatalf("ApplyElementChanges() failed: %v", err)
	}

	got, err := store.GetElements(ctx, "proj-1", []string{"el-1", "el-2", "el-3"})
	if err != nil {
		t.Fatalf("GetElements() failed: %v", err)
	}
	if _, ok := got["el-1"]; ok {
		t.Error("el-1 should be removed")
	}
	if _, ok := got["el-2"]; !ok {
		t.Error("el-2 should exist")
	}
	if _, ok := got["el-3"]; !ok {
		t.Error("el-3 should exist")
	}

	all, err := store.ListElements(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListElements() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 elements, got %d", len(all))
	}
}

func TestSnapshots_NearestAndLatest(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for _, idx := range []int64{10, 50, core.CurrentSnapshotIndex} {
		snap := &core.Snapshot{
			ProjectID: "proj-1",
			OpIndex:   idx,
			Elements:  map[string]*core.Element{"el-1": {ID: "el-1"}},
			Version:   core.SnapshotFormatVersion,
		}
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveSnapshot(%d) failed: %v", idx, err)
		}
	}

	t.Run("nearest below", func(t *testing.T) {
		snap, err := store.GetSnapshot(ctx, "proj-1", 49)
		if err != nil {
			t.Fatalf("GetSnapshot() failed: %v", err)
		}
		if snap.OpIndex != 10 {
			t.Errorf("Nearest snapshot mismatch: got %d, want 10", snap.OpIndex)
		}
	})

	t.Run("exact match", func(t *testing.T) {
		snap, err := store.GetSnapshot(ctx, "proj-1", 50)
		if err != nil {
			t.Fatalf("GetSnapshot() failed: %v", err)
		}
		if snap.OpIndex != 50 {
			t.Errorf("Snapshot mismatch: got %d, want 50", snap.OpIndex)
		}
	})

	t.Run("none below", func(t *testing.T) {
		_, err := store.GetSnapshot(ctx, "proj-1", 5)
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("latest prefers indexed", func(t *testing.T) {
		snap, err := store.GetLatestSnapshot(ctx, "proj-1")
		if err != nil {
			t.Fatalf("GetLatestSnapshot() failed: %v", err)
		}
		if snap.OpIndex != 50 {
			t.Errorf("Latest snapshot mismatch: got %d, want 50", snap.OpIndex)
		}
	})
}

func TestGetLatestSnapshot_FallsBackToCurrentSlot(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	snap := &core.Snapshot{
		ProjectID: "proj-1",
		OpIndex:   core.CurrentSnapshotIndex,
		Elements:  map[string]*core.Element{},
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	got, err := store.GetLatestSnapshot(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetLatestSnapshot() failed: %v", err)
	}
	if got.OpIndex != core.CurrentSnapshotIndex {
		t.Errorf("Expected the current slot, got index %d", got.OpIndex)
	}
}

func TestAdjustMediaRefs_ClampsAtZero(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	m := &core.Media{ID: "media-1", ProjectID: "proj-1"}
	if err := store.CreateMedia(ctx, m); err != nil {
		t.Fatalf("CreateMedia() failed: %v", err)
	}

	if err := store.AdjustMediaRefs(ctx, "media-1", 2); err != nil {
		t.Fatalf("AdjustMediaRefs(+2) failed: %v", err)
	}
	if err := store.AdjustMediaRefs(ctx, "media-1", -5); err != nil {
		t.Fatalf("AdjustMediaRefs(-5) failed: %v", err)
	}

	got, err := store.GetMedia(ctx, "media-1")
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}
	if got.RefCount != 0 {
		t.Errorf("RefCount should clamp at zero: got %d", got.RefCount)
	}
}

func TestListUnreferencedMedia_GraceWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewStoreWithClock(clock)
	ctx := context.Background()

	old := &core.Media{ID: "media-old", UpdatedAt: now.Add(-8 * 24 * time.Hour)}
	fresh := &core.Media{ID: "media-fresh", UpdatedAt: now.Add(-time.Hour)}
	referenced := &core.Media{ID: "media-ref", RefCount: 1, UpdatedAt: now.Add(-8 * 24 * time.Hour)}
	for _, m := range []*core.Media{old, fresh, referenced} {
		if err := store.CreateMedia(ctx, m); err != nil {
			t.Fatalf("CreateMedia(%s) failed: %v", m.ID, err)
		}
	}

	cutoff := now.Add(-7 * 24 * time.Hour)
	got, err := store.ListUnreferencedMedia(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("ListUnreferencedMedia() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "media-old" {
		ids := make([]string, 0, len(got))
		for _, m := range got {
			ids = append(ids, m.ID)
		}
		t.Errorf("Expected only media-old, got %v", ids)
	}
}

func TestDeleteProject_Cascades(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	p := &core.Project{ID: "proj-1", Name: "test", OwnerID: "user-1"}
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	if _, err := store.AppendOp(ctx, testOp("proj-1", "op-1", "")); err != nil {
		t.Fatalf("AppendOp() failed: %v", err)
	}
	if err := store.ApplyElementChanges(ctx, "proj-1", []*core.Element{{ID: "el-1"}}, nil); err != nil {
		t.Fatalf("ApplyElementChanges() failed: %v", err)
	}
	if err := store.SaveSnapshot(ctx, &core.Snapshot{ProjectID: "proj-1", OpIndex: 0}); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	if err := store.DeleteProject(ctx, "proj-1"); err != nil {
		t.Fatalf("DeleteProject() failed: %v", err)
	}

	if _, err := store.GetProject(ctx, "proj-1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Project should be gone, got %v", err)
	}
	ops, err := store.ListOpsSince(ctx, "proj-1", 0, 10)
	if err != nil {
		t.Fatalf("ListOpsSince() failed: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("Ops should be gone, got %d", len(ops))
	}
	head, err := store.CurrentOpIndex(ctx, "proj-1")
	if err != nil {
		t.Fatalf("CurrentOpIndex() failed: %v", err)
	}
	if head != -1 {
		t.Errorf("Counter should be reset: got %d", head)
	}
	elements, err := store.ListElements(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListElements() failed: %v", err)
	}
	if len(elements) != 0 {
		t.Errorf("Elements should be gone, got %d", len(elements))
	}
}
