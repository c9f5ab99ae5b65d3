package core

import (
	"fmt"
	"time"
)

// ApplyResult describes the element mutations one op produced. All of
// them must be persisted together as a single batch.
type ApplyResult struct {
	Upserts []*Element
	Removes []string
}

// ApplyOp applies a sequenced op to the element projection. It mutates
// the supplied map in place and reports the change set; it performs no
// I/O, so the same function drives live materialization, snapshot
// rebuilds, and log replay.
//
// The element set at any op index equals the result of applying every
// op with index <= that value, in order, to the empty set.
func ApplyOp(elements map[string]*Element, op *Op, now time.Time) (*ApplyResult, error) {
	p, err := op.Payload()
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{}
	upsert := func(e *Element) {
		c := e.Clone()
		c.ProjectID = op.ProjectID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		elements[c.ID] = c
		res.Upserts = append(res.Upserts, c)
	}
	remove := func(id string) {
		if _, ok := elements[id]; !ok {
			return
		}
		delete(elements, id)
		res.Removes = append(res.Removes, id)
	}

	switch v := p.(type) {
	case *CreatePayload:
		if v.Element != nil {
			upsert(v.Element)
		}
		for _, e := range v.Elements {
			upsert(e)
		}

	case *UpdatePayload:
		if v.Replace != nil {
			upsert(v.Replace)
			break
		}
		for _, id := range op.Targets() {
			e, ok := elements[id]
			if !ok {
				continue // no-op for missing elements
			}
			c := e.Clone()
			v.Patch.Merge(c)
			upsert(c)
		}

	case *DeletePayload:
		for _, id := range op.Targets() {
			remove(id)
		}

	case *MovePayload:
		for _, id := range op.Targets() {
			e, ok := elements[id]
			if !ok {
				continue // missing ids are skipped, the rest still move
			}
			c := e.Clone()
			c.X += v.DX
			c.Y += v.DY
			upsert(c)
		}

	case *ResizePayload:
		patch := &ElementPatch{Width: v.Width, Height: v.Height, Scale: v.Scale, Rotation: v.Rotation}
		for _, id := range op.Targets() {
			e, ok := elements[id]
			if !ok {
				continue
			}
			c := e.Clone()
			patch.Merge(c)
			upsert(c)
		}

	case *SelectPayload:
		by := v.By
		if by == "" {
			by = op.ActorID
		}
		for _, id := range op.Targets() {
			e, ok := elements[id]
			if !ok {
				continue
			}
			c := e.Clone()
			c.Meta.SelectedBy = by
			upsert(c)
		}

	case *DeselectPayload:
		for _, id := range op.Targets() {
			e, ok := elements[id]
			if !ok {
				continue
			}
			c := e.Clone()
			c.Meta.SelectedBy = ""
			upsert(c)
		}

	case *ConnectPayload:
		upsert(&Element{
			ID:   v.ConnectorID,
			Type: ElementConnector,
			X:    v.X,
			Y:    v.Y,
			Meta: ElementMeta{
				FromID:     v.FromID,
				ToID:       v.ToID,
				FromAnchor: v.FromAnchor,
				ToAnchor:   v.ToAnchor,
			},
		})

	case *DisconnectPayload:
		for _, id := range op.Targets() {
			remove(id)
		}

	case *GroupPayload:
		upsert(&Element{
			ID:   v.GroupID,
			Type: ElementGroup,
			Meta: ElementMeta{Members: v.Members},
		})
		for _, id := range v.Members {
			e, ok := elements[id]
			if !ok {
				continue
			}
			c := e.Clone()
			c.Meta.GroupID = v.GroupID
			upsert(c)
		}

	case *UngroupPayload:
		for _, id := range op.Targets() {
			g, ok := elements[id]
			if !ok {
				continue
			}
			for _, mid := range g.Meta.Members {
				m, ok := elements[mid]
				if !ok {
					continue
				}
				c := m.Clone()
				c.Meta.GroupID = ""
				upsert(c)
			}
			remove(id)
		}

	case *LayerPayload:
		for _, id := range op.Targets() {
			e, ok := elements[id]
			if !ok {
				continue
			}
			c := e.Clone()
			z := v.ZIndex
			c.ZIndex = &z
			upsert(c)
		}

	case *StylePayload:
		for _, id := range op.Targets() {
			e, ok := elements[id]
			if !ok {
				continue
			}
			c := e.Clone()
			if c.Meta.Style == nil {
				c.Meta.Style = make(map[string]string, len(v.Style))
			}
			for k, val := range v.Style {
				c.Meta.Style[k] = val
			}
			upsert(c)
		}

	default:
		return nil, fmt.Errorf("%w: unhandled op type %q", ErrValidation, op.Type)
	}

	return res, nil
}

// AffectedElementIDs returns every element id an op may touch: its
// direct targets plus the ids its payload references (group members,
// synthetic connector ids).
func AffectedElementIDs(op *Op) ([]string, error) {
	p, err := op.Payload()
	if err != nil {
		return nil, err
	}
	ids := op.Targets()
	switch v := p.(type) {
	case *CreatePayload:
		if v.Element != nil {
			ids = append(ids, v.Element.ID)
		}
		for _, e := range v.Elements {
			ids = append(ids, e.ID)
		}
	case *UpdatePayload:
		if v.Replace != nil {
			ids = append(ids, v.Replace.ID)
		}
	case *ConnectPayload:
		ids = append(ids, v.ConnectorID)
	case *GroupPayload:
		ids = append(ids, v.GroupID)
		ids = append(ids, v.Members...)
	case *UngroupPayload:
		if v.Previous != nil {
			ids = append(ids, v.Previous.Meta.Members...)
		}
	}
	return dedupe(ids), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
