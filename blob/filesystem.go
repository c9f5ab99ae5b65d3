package blob

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"canvas-collab/core"
)

type fsStorage struct {
	basePath string
}

// NewFilesystemStorage stores blobs as files under basePath.
func NewFilesystemStorage(basePath string) *fsStorage {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create blob directory: %v", err)
	}
	return &fsStorage{basePath: basePath}
}

// keyPath validates the key against path traversal before joining.
func (s *fsStorage) keyPath(key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("invalid blob key: must not be empty or a dot directory")
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key: escapes base path")
	}
	return full, nil
}

func (s *fsStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	full, err := s.keyPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", err
	}
	return "file://" + full, nil
}

func (s *fsStorage) Get(ctx context.Context, key string) ([]byte, error) {
	full, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *fsStorage) Delete(ctx context.Context, key string) error {
	full, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return err
	}
	return nil
}
