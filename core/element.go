package core

import (
	"context"
	"time"
)

type ElementType string

const (
	ElementImage     ElementType = "image"
	ElementVideo     ElementType = "video"
	ElementText      ElementType = "text"
	ElementShape     ElementType = "shape"
	ElementGroup     ElementType = "group"
	ElementConnector ElementType = "connector"
	ElementObject3D  ElementType = "object3d"
)

type (
	// ElementMeta is the type-specific metadata bag of an element.
	ElementMeta struct {
		MediaID    string            `json:"mediaId,omitempty"`
		Text       string            `json:"text,omitempty"`
		FromID     string            `json:"fromId,omitempty"`
		ToID       string            `json:"toId,omitempty"`
		FromAnchor string            `json:"fromAnchor,omitempty"`
		ToAnchor   string            `json:"toAnchor,omitempty"`
		GroupID    string            `json:"groupId,omitempty"`
		Members    []string          `json:"members,omitempty"`
		SelectedBy string            `json:"selectedBy,omitempty"`
		Style      map[string]string `json:"style,omitempty"`
	}

	// Element is a single canvas object in the materialized projection.
	// Elements are derived state: always reconstructible from the op log.
	Element struct {
		ID        string      `json:"id"`
		ProjectID string      `json:"projectId"`
		Type      ElementType `json:"type"`
		X         float64     `json:"x"`
		Y         float64     `json:"y"`
		Width     *float64    `json:"width,omitempty"`
		Height    *float64    `json:"height,omitempty"`
		Rotation  *float64    `json:"rotation,omitempty"`
		Scale     *float64    `json:"scale,omitempty"`
		Opacity   *float64    `json:"opacity,omitempty"`
		Visible   *bool       `json:"visible,omitempty"`
		Locked    *bool       `json:"locked,omitempty"`
		ZIndex    *int        `json:"zIndex,omitempty"`
		Meta      ElementMeta `json:"meta"`
		CreatedAt time.Time   `json:"createdAt"`
		UpdatedAt time.Time   `json:"updatedAt"`
	}

	// ElementPatch is a partial element used by update-style ops. Nil
	// fields are left untouched; Meta, when present, replaces the whole
	// metadata bag (top-level shallow overwrite).
	ElementPatch struct {
		X        *float64     `json:"x,omitempty"`
		Y        *float64     `json:"y,omitempty"`
		Width    *float64     `json:"width,omitempty"`
		Height   *float64     `json:"height,omitempty"`
		Rotation *float64     `json:"rotation,omitempty"`
		Scale    *float64     `json:"scale,omitempty"`
		Opacity  *float64     `json:"opacity,omitempty"`
		Visible  *bool        `json:"visible,omitempty"`
		Locked   *bool        `json:"locked,omitempty"`
		ZIndex   *int         `json:"zIndex,omitempty"`
		Meta     *ElementMeta `json:"meta,omitempty"`
	}

	// ElementStore defines the persistence layer for the element
	// projection. Writes are last-writer-wins: a stale write is
	// self-healing because the op log stays authoritative.
	ElementStore interface {
		// GetElements returns the subset of ids that exist, keyed by id.
		GetElements(ctx context.Context, projectID string, ids []string) (map[string]*Element, error)

		ListElements(ctx context.Context, projectID string) ([]*Element, error)

		// ApplyElementChanges writes every mutation produced by one op as
		// a single batch: all upserts and removes succeed or none do.
		ApplyElementChanges(ctx context.Context, projectID string, upserts []*Element, removes []string) error
	}
)

// Clone returns a deep copy, safe to mutate independently.
func (e *Element) Clone() *Element {
	c := *e
	c.Width = clonePtr(e.Width)
	c.Height = clonePtr(e.Height)
	c.Rotation = clonePtr(e.Rotation)
	c.Scale = clonePtr(e.Scale)
	c.Opacity = clonePtr(e.Opacity)
	c.Visible = clonePtr(e.Visible)
	c.Locked = clonePtr(e.Locked)
	c.ZIndex = clonePtr(e.ZIndex)
	c.Meta = e.Meta.clone()
	return &c
}

func (m ElementMeta) clone() ElementMeta {
	c := m
	if m.Members != nil {
		c.Members = append([]string(nil), m.Members...)
	}
	if m.Style != nil {
		c.Style = make(map[string]string, len(m.Style))
		for k, v := range m.Style {
			c.Style[k] = v
		}
	}
	return c
}

// Merge applies the patch onto the element, field by field.
func (p *ElementPatch) Merge(e *Element) {
	if p.X != nil {
		e.X = *p.X
	}
	if p.Y != nil {
		e.Y = *p.Y
	}
	if p.Width != nil {
		e.Width = clonePtr(p.Width)
	}
	if p.Height != nil {
		e.Height = clonePtr(p.Height)
	}
	if p.Rotation != nil {
		e.Rotation = clonePtr(p.Rotation)
	}
	if p.Scale != nil {
		e.Scale = clonePtr(p.Scale)
	}
	if p.Opacity != nil {
		e.Opacity = clonePtr(p.Opacity)
	}
	if p.Visible != nil {
		e.Visible = clonePtr(p.Visible)
	}
	if p.Locked != nil {
		e.Locked = clonePtr(p.Locked)
	}
	if p.ZIndex != nil {
		e.ZIndex = clonePtr(p.ZIndex)
	}
	if p.Meta != nil {
		e.Meta = p.Meta.clone()
	}
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
