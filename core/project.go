package core

import (
	"context"
	"time"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CanEdit reports whether the role allows mutating the canvas.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

type (
	// Member is a collaborator entry on a project.
	Member struct {
		UserID   string    `json:"userId"`
		Role     Role      `json:"role"`
		JoinedAt time.Time `json:"joinedAt"`
	}

	// Project is a collaboration workspace. Exactly one owner; the owner
	// has full access even when absent from the Members list.
	Project struct {
		ID                string            `json:"id"`
		Name              string            `json:"name"`
		OwnerID           string            `json:"ownerId"`
		Members           []Member          `json:"members,omitempty"`
		Settings          map[string]string `json:"settings,omitempty"`
		LastSnapshotIndex int64             `json:"lastSnapshotIndex"`
		LastSnapshotAt    time.Time         `json:"lastSnapshotAt,omitempty"`
		CreatedAt         time.Time         `json:"createdAt"`
		UpdatedAt         time.Time         `json:"updatedAt"`
	}

	// ProjectStore defines the persistence layer for projects.
	ProjectStore interface {
		CreateProject(ctx context.Context, p *Project) error
		GetProject(ctx context.Context, id string) (*Project, error)

		// ListProjectsByMember returns every project the user owns or
		// collaborates on, without element data.
		ListProjectsByMember(ctx context.Context, userID string) ([]*Project, error)

		UpdateProject(ctx context.Context, p *Project) error

		// DeleteProject cascades to the project's ops, elements, and snapshots.
		DeleteProject(ctx context.Context, id string) error
	}
)

// RoleOf resolves the actor's role on the project. The owner is an
// implicit full-access member.
func (p *Project) RoleOf(userID string) (Role, bool) {
	if userID == p.OwnerID {
		return RoleOwner, true
	}
	for _, m := range p.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}
