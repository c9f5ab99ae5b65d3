package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"canvas-collab/core"
)

func setupTestDB(t *testing.T) *sqliteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	return NewStore(dbPath)
}

func testOp(projectID, opID, requestID string) *core.Op {
	return &core.Op{
		ID:        opID,
		ProjectID: projectID,
		Type:      core.OpMove,
		ElementID: "el-1",
		ActorID:   "user-1",
		RequestID: requestID,
		CreatedAt: time.Now().UTC(),
	}
}

func TestNewStore_TablesCreated(t *testing.T) {
	store := setupTestDB(t)

	for _, table := range []string{"projects", "ops", "op_counters", "elements", "snapshots", "media"} {
		var name string
		err := store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not created: %v", table, err)
		}
	}
}

func TestAppendOp_AssignsSequentialIndexes(t *testing.T) {
	store := setupTestDB(t)
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

func TestAppendOp_DuplicateRequestID(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if _, err := store.AppendOp(ctx, testOp("proj-1", "op-1", "req-1")); err != nil {
		t.Fatalf("AppendOp() failed: %v", err)
	}
	_, err := store.AppendOp(ctx, testOp("proj-1", "op-2", "req-1"))
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate request id, got %v", err)
	}

	// The failed append must not consume an index.
	index, err := store.AppendOp(ctx, testOp("proj-1", "op-3", "req-2"))
	if err != nil {
		t.Fatalf("AppendOp() failed: %v", err)
	}
	if index != 1 {
		t.Errorf("Index mismatch after rolled-back append: got %d, want 1", index)
	}
}

func TestAppendOp_ConcurrentGapless(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	numGoroutines := 10
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
	for i := int64(0); i < int64(len(indexes)); i++ {
		if !seen[i] {
			t.Errorf("Gap in assigned indexes: missing %d", i)
		}
	}
}

func TestListOpsSince_RangeScan(t *testing.T) {
	store := setupTestDB(t)
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
}

func TestCurrentOpIndex_EmptyLog(t *testing.T) {
	store := setupTestDB(t)

	head, err := store.CurrentOpIndex(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("CurrentOpIndex() failed: %v", err)
	}
	if head != -1 {
		t.Errorf("Empty log head mismatch: got %d, want -1", head)
	}
}

func TestOpRoundTrip_PreservesPayload(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	op := &core.Op{
		ID:         "op-1",
		ProjectID:  "proj-1",
		Type:       core.OpCreate,
		ElementIDs: []string{"el-1", "el-2"},
		Data:       []byte(`{"element":{"id":"el-1","type":"shape","x":5,"y":6}}`),
		ActorID:    "user-1",
		RequestID:  "req-1",
		ClientTS:   &ts,
		CreatedAt:  ts,
	}
	if _, err := store.AppendOp(ctx, op); err != nil {
		t.Fatalf("AppendOp() failed: %v", err)
	}

	got, err := store.GetOp(ctx, "proj-1", "op-1")
	if err != nil {
		t.Fatalf("GetOp() failed: %v", err)
	}
	if got.Type != core.OpCreate || got.ActorID != "user-1" || got.RequestID != "req-1" {
		t.Errorf("Op fields mismatch: %+v", got)
	}
	if len(got.ElementIDs) != 2 {
		t.Errorf("ElementIDs mismatch: got %v", got.ElementIDs)
	}
	if got.ClientTS == nil || !got.ClientTS.Equal(ts) {
		t.Errorf("ClientTS mismatch: got %v, want %v", got.ClientTS, ts)
	}
	p, err := got.Payload()
	if err != nil {
		t.Fatalf("Payload() failed: %v", err)
	}
	cp := p.(*core.CreatePayload)
	if cp.Element == nil || cp.Element.ID != "el-1" {
		t.Errorf("Payload element mismatch: %+v", cp.Element)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &core.Project{
		ID:      "proj-1",
		Name:    "design review",
		OwnerID: "user-1",
		Members: []core.Member{
			{UserID: "user-2", Role: core.RoleEditor, JoinedAt: now},
		},
		Settings:          map[string]string{"theme": "dark"},
		LastSnapshotIndex: core.CurrentSnapshotIndex,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}

	got, err := store.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetProject() failed: %v", err)
	}
	if got.Name != "design review" || got.OwnerID != "user-1" {
		t.Errorf("Project fields mismatch: %+v", got)
	}
	if len(got.Members) != 1 || got.Members[0].Role != core.RoleEditor {
		t.Errorf("Members mismatch: %+v", got.Members)
	}
	if got.Settings["theme"] != "dark" {
		t.Errorf("Settings mismatch: %+v", got.Settings)
	}

	t.Run("list by owner", func(t *testing.T) {
		list, err := store.ListProjectsByMember(ctx, "user-1")
		if err != nil {
			t.Fatalf("ListProjectsByMember() failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("Expected 1 project for the owner, got %d", len(list))
		}
	})

	t.Run("list by collaborator", func(t *testing.T) {
		list, err := store.ListProjectsByMember(ctx, "user-2")
		if err != nil {
			t.Fatalf("ListProjectsByMember() failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("Expected 1 project for the collaborator, got %d", len(list))
		}
	})

	t.Run("list by stranger", func(t *testing.T) {
		list, err := store.ListProjectsByMember(ctx, "user-3")
		if err != nil {
			t.Fatalf("ListProjectsByMember() failed: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("Expected no projects for a stranger, got %d", len(list))
		}
	})
}

func TestElementChanges_Batch(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	upserts := []*core.Element{
		{ID: "el-1", ProjectID: "proj-1", Type: core.ElementShape, X: 1, UpdatedAt: time.Now().UTC()},
		{ID: "el-2", ProjectID: "proj-1", Type: core.ElementImage, Meta: core.ElementMeta{MediaID: "media-1"}, UpdatedAt: time.Now().UTC()},
	}
	if err := store.ApplyElementChanges(ctx, "proj-1", upserts, nil); err != nil {
		t.Fatalf("ApplyElementChanges() failed: %v", err)
	}
	if err := store.ApplyElementChanges(ctx, "proj-1", nil, []string{"el-1"}); err != nil {
		t.Fatalf("ApplyElementChanges() failed: %v", err)
	}

	got, err := store.GetElements(ctx, "proj-1", []string{"el-1", "el-2"})
	if err != nil {
		t.Fatalf("GetElements() failed: %v", err)
	}
	if _, ok := got["el-1"]; ok {
		t.Error("el-1 should be removed")
	}
	e, ok := got["el-2"]
	if !ok {
		t.Fatal("el-2 should exist")
	}
	if e.Meta.MediaID != "media-1" {
		t.Errorf("Element meta mismatch: got %q", e.Meta.MediaID)
	}
}

func TestSnapshots_NearestAndCurrentSlot(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for _, idx := range []int64{10, 50, core.CurrentSnapshotIndex} {
		snap := &core.Snapshot{
			ProjectID: "proj-1",
			OpIndex:   idx,
			Elements:  map[string]*core.Element{"el-1": {ID: "el-1"}},
			Version:   core.SnapshotFormatVersion,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveSnapshot(%d) failed: %v", idx, err)
		}
	}

	snap, err := store.GetSnapshot(ctx, "proj-1", 49)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if snap.OpIndex != 10 {
		t.Errorf("Nearest snapshot mismatch: got %d, want 10", snap.OpIndex)
	}

	latest, err := store.GetLatestSnapshot(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetLatestSnapshot() failed: %v", err)
	}
	if latest.OpIndex != 50 {
		t.Errorf("Latest snapshot mismatch: got %d, want 50", latest.OpIndex)
	}

	// Overwriting the current slot is an upsert, not an error.
	if err := store.SaveSnapshot(ctx, &core.Snapshot{
		ProjectID: "proj-1",
		OpIndex:   core.CurrentSnapshotIndex,
		Elements:  map[string]*core.Element{},
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Errorf("SaveSnapshot() upsert failed: %v", err)
	}
}

func TestAdjustMediaRefs_ClampsAtZero(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewStoreWithClock(dbPath, func() time.Time { return now })
	ctx := context.Background()

	m := &core.Media{ID: "media-1", ProjectID: "proj-1", Origin: core.MediaOriginUpload}
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

	if err := store.AdjustMediaRefs(ctx, "missing", 1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing media, got %v", err)
	}
}

func TestListUnreferencedMedia_GraceWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewStoreWithClock(dbPath, func() time.Time { return now })
	ctx := context.Background()

	old := &core.Media{ID: "media-old", ProjectID: "proj-1", Origin: core.MediaOriginUpload, UpdatedAt: now.Add(-8 * 24 * time.Hour), CreatedAt: now.Add(-8 * 24 * time.Hour)}
	fresh := &core.Media{ID: "media-fresh", ProjectID: "proj-1", Origin: core.MediaOriginUpload, UpdatedAt: now.Add(-time.Hour), CreatedAt: now.Add(-time.Hour)}
	referenced := &core.Media{ID: "media-ref", ProjectID: "proj-1", Origin: core.MediaOriginUpload, RefCount: 1, UpdatedAt: now.Add(-8 * 24 * time.Hour), CreatedAt: now.Add(-8 * 24 * time.Hour)}
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
	store := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &core.Project{ID: "proj-1", Name: "test", OwnerID: "user-1", CreatedAt: now, UpdatedAt: now}
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	if _, err := store.AppendOp(ctx, testOp("proj-1", "op-1", "")); err != nil {
		t.Fatalf("AppendOp() failed: %v", err)
	}
	if err := store.ApplyElementChanges(ctx, "proj-1",
		[]*core.Element{{ID: "el-1", UpdatedAt: now}}, nil); err != nil {
		t.Fatalf("ApplyElementChanges() failed: %v", err)
	}
	if err := store.SaveSnapshot(ctx, &core.Snapshot{ProjectID: "proj-1", OpIndex: 0, Elements: map[string]*core.Element{}, CreatedAt: now}); err != nil {
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
}
