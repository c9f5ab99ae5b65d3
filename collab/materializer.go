package collab

import (
	"context"

	"canvas-collab/core"

	"github.com/sirupsen/logrus"
)

// Materializer projects freshly sequenced ops into the current element
// set. It runs synchronously after sequencing, inside the same request.
type Materializer struct {
	elements core.ElementStore
	media    core.MediaStore
	clock    core.Clock
}

func NewMaterializer(elements core.ElementStore, media core.MediaStore, clock core.Clock) *Materializer {
	return &Materializer{elements: elements, media: media, clock: clock}
}

// Apply loads the elements the op touches, applies it via core.ApplyOp,
// persists every resulting mutation as one batch, and settles media
// reference counts from the metadata diff.
func (m *Materializer) Apply(ctx context.Context, op *core.Op) error {
	affected, err := core.AffectedElementIDs(op)
	if err != nil {
		return err
	}
	current, err := m.elements.GetElements(ctx, op.ProjectID, affected)
	if err != nil {
		return err
	}

	before := make(map[string]string, len(current)) // element id -> media id
	for id, e := range current {
		before[id] = e.Meta.MediaID
	}

	res, err := core.ApplyOp(current, op, m.clock())
	if err != nil {
		return err
	}
	if err := m.elements.ApplyElementChanges(ctx, op.ProjectID, res.Upserts, res.Removes); err != nil {
		return err
	}

	m.settleMediaRefs(ctx, before, res)
	return nil
}

// settleMediaRefs derives increments and decrements from the diff
// between old and new element metadata, never blind +1/-1 per call, so
// a replayed op settles to the same counts.
func (m *Materializer) settleMediaRefs(ctx context.Context, before map[string]string, res *core.ApplyResult) {
	deltas := make(map[string]int64)
	for _, e := range res.Upserts {
		old := before[e.ID]
		if old == e.Meta.MediaID {
			continue
		}
		if old != "" {
			deltas[old]--
		}
		if e.Meta.MediaID != "" {
			deltas[e.Meta.MediaID]++
		}
	}
	for _, id := range res.Removes {
		if old := before[id]; old != "" {
			deltas[old]--
		}
	}

	for mediaID, delta := range deltas {
		if delta == 0 {
			continue
		}
		if err := m.media.AdjustMediaRefs(ctx, mediaID, delta); err != nil {
			// Counts self-heal on the next snapshot rebuild; don't fail the op.
			logrus.WithError(err).WithFields(logrus.Fields{
				"media_id": mediaID,
				"delta":    delta,
			}).Warn("Failed to adjust media reference count")
		}
	}
}
