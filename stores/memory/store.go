package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"canvas-collab/core"

	"github.com/sirupsen/logrus"
)

// memStore keeps everything behind one RWMutex. The sequencing path
// (AppendOp) holds the write lock for the whole read-increment-write,
// which is this backend's transaction.
type memStore struct {
	mu        sync.RWMutex
	clock     core.Clock
	projects  map[string]*core.Project
	ops       map[string][]*core.Op               // projectID -> ascending by opIndex
	opsByID   map[string]map[string]*core.Op      // projectID -> opID
	opsByReq  map[string]map[string]*core.Op      // projectID -> requestID
	counters  map[string]int64                    // projectID -> next index
	elements  map[string]map[string]*core.Element // projectID -> elementID
	snapshots map[string]map[int64]*core.Snapshot // projectID -> opIndex
	media     map[string]*core.Media
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return NewStoreWithClock(core.SystemClock)
}

// NewStoreWithClock lets tests control the timestamps stamped on
// reference-count adjustments.
func NewStoreWithClock(clock core.Clock) *memStore {
	return &memStore{
		clock:     clock,
		projects:  make(map[string]*core.Project),
		ops:       make(map[string][]*core.Op),
		opsByID:   make(map[string]map[string]*core.Op),
		opsByReq:  make(map[string]map[string]*core.Op),
		counters:  make(map[string]int64),
		elements:  make(map[string]map[string]*core.Element),
		snapshots: make(map[string]map[int64]*core.Snapshot),
		media:     make(map[string]*core.Media),
	}
}

// ProjectStore implementation

func (s *memStore) CreateProject(ctx context.Context, p *core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		return fmt.Errorf("%w: project id cannot be empty", core.ErrValidation)
	}
	c := *p
	s.projects[p.ID] = &c
	logrus.WithField("project_id", p.ID).Info("Project created")
	return nil
}

func (s *memStore) GetProject(ctx context.Context, id string) (*core.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, core.ErrNotFound)
	}
	c := *p
	c.Members = append([]core.Member(nil), p.Members...)
	return &c, nil
}

func (s *memStore) ListProjectsByMember(ctx context.Context, userID string) ([]*core.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Project
	for _, p := range s.projects {
		if _, ok := p.RoleOf(userID); ok {
			c := *p
			c.Members = append([]core.Member(nil), p.Members...)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateProject(ctx context.Context, p *core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[p.ID]; !ok {
		return fmt.Errorf("project %s: %w", p.ID, core.ErrNotFound)
	}
	c := *p
	c.Members = append([]core.Member(nil), p.Members...)
	s.projects[p.ID] = &c
	return nil
}

func (s *memStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, core.ErrNotFound)
	}
	delete(s.projects, id)
	delete(s.ops, id)
	delete(s.opsByID, id)
	delete(s.opsByReq, id)
	delete(s.counters, id)
	delete(s.elements, id)
	delete(s.snapshots, id)
	logrus.WithField("project_id", id).Info("Project deleted with ops, elements, and snapshots")
	return nil
}

// OpStore implementation

func (s *memStore) AppendOp(ctx context.Context, op *core.Op) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid := op.ProjectID
	if op.RequestID != "" {
		if _, ok := s.opsByReq[pid][op.RequestID]; ok {
			return 0, fmt.Errorf("request %s already sequenced: %w", op.RequestID, core.ErrConflict)
		}
	}

	index := s.counters[pid]
	c := *op
	c.OpIndex = index
	s.counters[pid] = index + 1

	s.ops[pid] = append(s.ops[pid], &c)
	if s.opsByID[pid] == nil {
		s.opsByID[pid] = make(map[string]*core.Op)
	}
	s.opsByID[pid][c.ID] = &c
	if c.RequestID != "" {
		if s.opsByReq[pid] == nil {
			s.opsByReq[pid] = make(map[string]*core.Op)
		}
		s.opsByReq[pid][c.RequestID] = &c
	}
	op.OpIndex = index
	return index, nil
}

func (s *memStore) ListOpsSince(ctx context.Context, projectID string, fromIndex int64, limit int) ([]*core.Op, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.ops[projectID]
	// Ops are stored in index order; binary search for the start.
	start := sort.Search(len(log), func(i int) bool { return log[i].OpIndex >= fromIndex })
	out := make([]*core.Op, 0, limit)
	for i := start; i < len(log) && len(out) < limit; i++ {
		c := *log[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *memStore) FindOpByRequestID(ctx context.Context, projectID, requestID string) (*core.Op, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.opsByReq[projectID][requestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, core.ErrNotFound)
	}
	c := *op
	return &c, nil
}

func (s *memStore) GetOp(ctx context.Context, projectID, opID string) (*core.Op, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.opsByID[projectID][opID]
	if !ok {
		return nil, fmt.Errorf("op %s: %w", opID, core.ErrNotFound)
	}
	c := *op
	return &c, nil
}

func (s *memStore) CurrentOpIndex(ctx context.Context, projectID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.counters[projectID] - 1, nil
}

// ElementStore implementation

func (s *memStore) GetElements(ctx context.Context, projectID string, ids []string) (map[string]*core.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*core.Element, len(ids))
	for _, id := range ids {
		if e, ok := s.elements[projectID][id]; ok {
			out[id] = e.Clone()
		}
	}
	return out, nil
}

func (s *memStore) ListElements(ctx context.Context, projectID string) ([]*core.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.elements[projectID]
	out := make([]*core.Element, 0, len(byID))
	for _, e := range byID {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ApplyElementChanges(ctx context.Context, projectID string, upserts []*core.Element, removes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.elements[projectID]
	if byID == nil {
		byID = make(map[string]*core.Element)
		s.elements[projectID] = byID
	}
	for _, e := range upserts {
		byID[e.ID] = e.Clone()
	}
	for _, id := range removes {
		delete(byID, id)
	}
	return nil
}

// SnapshotStore implementation

func (s *memStore) SaveSnapshot(ctx context.Context, snap *core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIndex := s.snapshots[snap.ProjectID]
	if byIndex == nil {
		byIndex = make(map[int64]*core.Snapshot)
		s.snapshots[snap.ProjectID] = byIndex
	}
	c := *snap
	c.Elements = make(map[string]*core.Element, len(snap.Elements))
	for id, e := range snap.Elements {
		c.Elements[id] = e.Clone()
	}
	byIndex[snap.OpIndex] = &c
	logrus.WithFields(logrus.Fields{
		"project_id":     snap.ProjectID,
		"snapshot_index": snap.OpIndex,
		"element_count":  len(snap.Elements),
	}).Info("Snapshot saved")
	return nil
}

func (s *memStore) GetSnapshot(ctx context.Context, projectID string, atIndex int64) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *core.Snapshot
	for idx, snap := range s.snapshots[projectID] {
		if idx == core.CurrentSnapshotIndex || idx > atIndex {
			continue
		}
		if best == nil || idx > best.OpIndex {
			best = snap
		}
	}
	if best == nil {
		return nil, fmt.Errorf("snapshot at %d: %w", atIndex, core.ErrNotFound)
	}
	return cloneSnapshot(best), nil
}

func (s *memStore) GetLatestSnapshot(ctx context.Context, projectID string) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *core.Snapshot
	for idx, snap := range s.snapshots[projectID] {
		if idx == core.CurrentSnapshotIndex {
			continue
		}
		if best == nil || idx > best.OpIndex {
			best = snap
		}
	}
	if best == nil {
		best = s.snapshots[projectID][core.CurrentSnapshotIndex]
	}
	if best == nil {
		return nil, fmt.Errorf("latest snapshot: %w", core.ErrNotFound)
	}
	return cloneSnapshot(best), nil
}

func cloneSnapshot(snap *core.Snapshot) *core.Snapshot {
	c := *snap
	c.Elements = make(map[string]*core.Element, len(snap.Elements))
	for id, e := range snap.Elements {
		c.Elements[id] = e.Clone()
	}
	return &c
}

// MediaStore implementation

func (s *memStore) CreateMedia(ctx context.Context, m *core.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		return fmt.Errorf("%w: media id cannot be empty", core.ErrValidation)
	}
	now := s.clock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	c := *m
	s.media[m.ID] = &c
	return nil
}

func (s *memStore) GetMedia(ctx context.Context, id string) (*core.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.media[id]
	if !ok {
		return nil, fmt.Errorf("media %s: %w", id, core.ErrNotFound)
	}
	c := *m
	return &c, nil
}

func (s *memStore) AdjustMediaRefs(ctx context.Context, id string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.media[id]
	if !ok {
		return fmt.Errorf("media %s: %w", id, core.ErrNotFound)
	}
	next := m.RefCount + delta
	if next < 0 {
		// Double-decrement from a retried op must not corrupt the count.
		logrus.WithFields(logrus.Fields{
			"media_id": id,
			"delta":    delta,
		}).Warn("Media reference count clamped at zero")
		next = 0
	}
	m.RefCount = next
	m.UpdatedAt = s.clock()
	return nil
}

func (s *memStore) ListUnreferencedMedia(ctx context.Context, olderThan time.Time, limit int) ([]*core.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Media
	for _, m := range s.media {
		if m.RefCount != 0 || !m.UpdatedAt.Before(olderThan) {
			continue
		}
		c := *m
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) DeleteMedia(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.media[id]; !ok {
		return fmt.Errorf("media %s: %w", id, core.ErrNotFound)
	}
	delete(s.media, id)
	return nil
}
