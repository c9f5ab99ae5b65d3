// Package collab implements the canvas collaboration engine: access
// checks, op sequencing, state materialization, undo, snapshots, and
// media garbage collection.
package collab

import (
	"context"
	"fmt"

	"canvas-collab/core"
)

// Guard resolves whether an actor may read or write a project. It has
// no side effects; every mutating or listing operation passes through
// it first.
type Guard struct {
	projects core.ProjectStore
}

func NewGuard(projects core.ProjectStore) *Guard {
	return &Guard{projects: projects}
}

// Check returns the actor's role. core.ErrNotFound when the project
// does not exist, core.ErrForbidden when the actor is neither owner nor
// listed collaborator.
func (g *Guard) Check(ctx context.Context, projectID, actorID string) (core.Role, error) {
	p, err := g.projects.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	role, ok := p.RoleOf(actorID)
	if !ok {
		return "", fmt.Errorf("user %s on project %s: %w", actorID, projectID, core.ErrForbidden)
	}
	return role, nil
}

// Project loads the guarded project record.
func (g *Guard) Project(ctx context.Context, projectID string) (*core.Project, error) {
	return g.projects.GetProject(ctx, projectID)
}

// CheckEdit is Check plus a write-permission requirement: viewers may
// read the log but never append to it.
func (g *Guard) CheckEdit(ctx context.Context, projectID, actorID string) (core.Role, error) {
	role, err := g.Check(ctx, projectID, actorID)
	if err != nil {
		return "", err
	}
	if !role.CanEdit() {
		return "", fmt.Errorf("role %s cannot edit project %s: %w", role, projectID, core.ErrForbidden)
	}
	return role, nil
}
