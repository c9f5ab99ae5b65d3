package core

import (
	"context"
	"time"
)

type MediaOrigin string

const (
	MediaOriginCanvas   MediaOrigin = "canvas"
	MediaOriginUpload   MediaOrigin = "upload"
	MediaOriginImported MediaOrigin = "imported"
)

type (
	MediaMeta struct {
		Width     int     `json:"width,omitempty"`
		Height    int     `json:"height,omitempty"`
		Duration  float64 `json:"duration,omitempty"`
		Format    string  `json:"format,omitempty"`
		SizeBytes int64   `json:"sizeBytes,omitempty"`
	}

	// Media is a stored blob referenced by zero or more elements.
	// RefCount never goes below zero; a zero-count record older than the
	// grace window is eligible for garbage collection.
	Media struct {
		ID          string      `json:"id"`
		ProjectID   string      `json:"projectId"`
		URL         string      `json:"url"`
		StoragePath string      `json:"storagePath"`
		Origin      MediaOrigin `json:"origin"`
		RefCount    int64       `json:"refCount"`
		Meta        MediaMeta   `json:"meta"`
		CreatedAt   time.Time   `json:"createdAt"`
		UpdatedAt   time.Time   `json:"updatedAt"`
	}

	MediaStore interface {
		CreateMedia(ctx context.Context, m *Media) error
		GetMedia(ctx context.Context, id string) (*Media, error)

		// AdjustMediaRefs atomically adds delta to the reference count,
		// clamping at zero. Never a separate read-modify-write.
		AdjustMediaRefs(ctx context.Context, id string, delta int64) error

		// ListUnreferencedMedia returns records with a zero count whose
		// last update is older than the cutoff, capped at limit.
		ListUnreferencedMedia(ctx context.Context, olderThan time.Time, limit int) ([]*Media, error)

		DeleteMedia(ctx context.Context, id string) error
	}
)
