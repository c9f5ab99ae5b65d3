package blob

import (
	"context"
	"fmt"
	"sync"

	"canvas-collab/core"
)

type memoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStorage creates an in-memory blob store, for development and
// tests.
func NewMemoryStorage() *memoryStorage {
	return &memoryStorage{blobs: make(map[string][]byte)}
}

func (s *memoryStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := make([]byte, len(data))
	copy(c, data)
	s.blobs[key] = c
	return "mem://" + key, nil
}

func (s *memoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	c := make([]byte, len(data))
	copy(c, data)
	return c, nil
}

func (s *memoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	delete(s.blobs, key)
	return nil
}
