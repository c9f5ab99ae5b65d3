package collab

import (
	"context"
	"errors"
	"time"

	"canvas-collab/core"
	"canvas-collab/metrics"

	"github.com/sirupsen/logrus"
)

// DefaultGracePeriod tolerates races where an element referencing a
// media item is mid-flight: created but not yet materialized.
const DefaultGracePeriod = 7 * 24 * time.Hour

const sweepBatchSize = 100

// BlobDeleter removes a stored blob by its storage path.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Collector reclaims media blobs that have had zero element references
// for longer than the grace period.
type Collector struct {
	media    core.MediaStore
	blobs    BlobDeleter
	clock    core.Clock
	grace    time.Duration
	interval time.Duration
}

func NewCollector(media core.MediaStore, blobs BlobDeleter, clock core.Clock, grace, interval time.Duration) *Collector {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Collector{media: media, blobs: blobs, clock: clock, grace: grace, interval: interval}
}

// SweepOnce deletes every currently eligible media item and returns how
// many were reclaimed.
func (c *Collector) SweepOnce(ctx context.Context) (int, error) {
	cutoff := c.clock().Add(-c.grace)
	reclaimed := 0
	for {
		candidates, err := c.media.ListUnreferencedMedia(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return reclaimed, err
		}
		if len(candidates) == 0 {
			return reclaimed, nil
		}
		batchReclaimed := 0
		for _, m := range candidates {
			log := logrus.WithFields(logrus.Fields{
				"media_id":     m.ID,
				"project_id":   m.ProjectID,
				"storage_path": m.StoragePath,
			})
			if m.StoragePath != "" {
				if err := c.blobs.Delete(ctx, m.StoragePath); err != nil && !errors.Is(err, core.ErrNotFound) {
					// Keep the record so the next sweep retries the blob.
					log.WithError(err).Warn("Failed to delete media blob, will retry")
					continue
				}
			}
			if err := c.media.DeleteMedia(ctx, m.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
				log.WithError(err).Warn("Failed to delete media record")
				continue
			}
			metrics.MediaCollected.Inc()
			reclaimed++
			batchReclaimed++
			log.Info("Unreferenced media reclaimed")
		}
		// Stop when the batch made no progress, otherwise a stuck blob
		// would spin the sweep forever.
		if len(candidates) < sweepBatchSize || batchReclaimed == 0 {
			return reclaimed, nil
		}
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := c.SweepOnce(ctx); err != nil {
				logrus.WithError(err).Error("Media sweep failed")
			} else if n > 0 {
				logrus.WithField("reclaimed", n).Info("Media sweep finished")
			}
		}
	}
}
