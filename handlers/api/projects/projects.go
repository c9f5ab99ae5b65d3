package projects

import (
	"encoding/json"
	"fmt"
	"net/http"

	"canvas-collab/core"
	"canvas-collab/handlers/api/apierr"
	"canvas-collab/handlers/auth"
	"canvas-collab/middleware"
	"canvas-collab/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type createRequest struct {
	Name     string            `json:"name"`
	Settings map[string]string `json:"settings,omitempty"`
}

type updateRequest struct {
	Name     *string           `json:"name,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

type memberRequest struct {
	UserID string    `json:"userId"`
	Role   core.Role `json:"role"`
}

func HandleCreate(store stores.Store, clock core.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid project payload"})
			return
		}
		defer r.Body.Close()
		if req.Name == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Project name is required"})
			return
		}

		now := clock()
		p := &core.Project{
			ID:                ulid.Make().String(),
			Name:              req.Name,
			OwnerID:           claims.Subject,
			Settings:          req.Settings,
			LastSnapshotIndex: core.CurrentSnapshotIndex,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := store.CreateProject(r.Context(), p); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to create project")
			apierr.Render(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, p)
	}
}

func HandleList(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		list, err := store.ListProjectsByMember(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to list projects")
			apierr.Render(w, r, err)
			return
		}
		if list == nil {
			list = []*core.Project{}
		}
		render.JSON(w, r, list)
	}
}

func HandleGet(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, p, ok := memberProject(w, r, store)
		if !ok {
			return
		}
		render.JSON(w, r, p)
	}
}

func HandleUpdate(store stores.Store, clock core.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, p, ok := memberProject(w, r, store)
		if !ok {
			return
		}
		role, _ := p.RoleOf(claims.Subject)
		if !role.CanEdit() {
			apierr.Render(w, r, fmt.Errorf("role %s cannot update project: %w", role, core.ErrForbidden))
			return
		}

		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid project payload"})
			return
		}
		defer r.Body.Close()

		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Settings != nil {
			p.Settings = req.Settings
		}
		p.UpdatedAt = clock()

		if err := store.UpdateProject(r.Context(), p); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"projectID": p.ID,
			}).Error("Failed to update project")
			apierr.Render(w, r, err)
			return
		}
		render.JSON(w, r, p)
	}
}

// HandleDelete removes a project and everything under it. Media
// referenced by live elements is released first so the collector can
// reclaim blobs once the grace window passes.
func HandleDelete(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, p, ok := memberProject(w, r, store)
		if !ok {
			return
		}
		if claims.Subject != p.OwnerID {
			apierr.Render(w, r, fmt.Errorf("only the owner can delete a project: %w", core.ErrForbidden))
			return
		}

		elements, err := store.ListElements(r.Context(), p.ID)
		if err != nil {
			apierr.Render(w, r, err)
			return
		}
		for _, e := range elements {
			if e.Meta.MediaID == "" {
				continue
			}
			if err := store.AdjustMediaRefs(r.Context(), e.Meta.MediaID, -1); err != nil {
				logrus.WithFields(logrus.Fields{
					"error":   err,
					"mediaID": e.Meta.MediaID,
				}).Warn("Failed to release media ref during project delete")
			}
		}

		if err := store.DeleteProject(r.Context(), p.ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"projectID": p.ID,
			}).Error("Failed to delete project")
			apierr.Render(w, r, err)
			return
		}
		render.Status(r, http.StatusNoContent)
		render.NoContent(w, r)
	}
}

// HandleUpsertMember adds or re-roles a collaborator. Owner only; the
// owner's implicit membership cannot be reassigned.
func HandleUpsertMember(store stores.Store, clock core.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, p, ok := memberProject(w, r, store)
		if !ok {
			return
		}
		if claims.Subject != p.OwnerID {
			apierr.Render(w, r, fmt.Errorf("only the owner can manage collaborators: %w", core.ErrForbidden))
			return
		}

		var req memberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid member payload"})
			return
		}
		defer r.Body.Close()
		if req.UserID == "" || (req.Role != core.RoleEditor && req.Role != core.RoleViewer) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Member requires a userId and a role of editor or viewer"})
			return
		}
		if req.UserID == p.OwnerID {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "The owner's role cannot be changed"})
			return
		}

		now := clock()
		found := false
		for i := range p.Members {
			if p.Members[i].UserID == req.UserID {
				p.Members[i].Role = req.Role
				found = true
				break
			}
		}
		if !found {
			p.Members = append(p.Members, core.Member{UserID: req.UserID, Role: req.Role, JoinedAt: now})
		}
		p.UpdatedAt = now

		if err := store.UpdateProject(r.Context(), p); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"projectID": p.ID,
				"memberID":  req.UserID,
			}).Error("Failed to upsert collaborator")
			apierr.Render(w, r, err)
			return
		}
		render.JSON(w, r, p)
	}
}

func HandleRemoveMember(store stores.Store, clock core.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, p, ok := memberProject(w, r, store)
		if !ok {
			return
		}
		if claims.Subject != p.OwnerID {
			apierr.Render(w, r, fmt.Errorf("only the owner can manage collaborators: %w", core.ErrForbidden))
			return
		}

		userID := chi.URLParam(r, "userID")
		kept := p.Members[:0]
		for _, m := range p.Members {
			if m.UserID != userID {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(p.Members) {
			apierr.Render(w, r, fmt.Errorf("user %s is not a collaborator: %w", userID, core.ErrNotFound))
			return
		}
		p.Members = kept
		p.UpdatedAt = clock()

		if err := store.UpdateProject(r.Context(), p); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"projectID": p.ID,
				"memberID":  userID,
			}).Error("Failed to remove collaborator")
			apierr.Render(w, r, err)
			return
		}
		render.JSON(w, r, p)
	}
}

// memberProject loads the project and verifies the caller belongs to
// it. Writes the error response itself when access fails.
func memberProject(w http.ResponseWriter, r *http.Request, store stores.Store) (*auth.AppClaims, *core.Project, bool) {
	claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": "User claims not found"})
		return nil, nil, false
	}
	projectID := chi.URLParam(r, "projectID")
	p, err := store.GetProject(r.Context(), projectID)
	if err != nil {
		apierr.Render(w, r, err)
		return nil, nil, false
	}
	if _, ok := p.RoleOf(claims.Subject); !ok {
		apierr.Render(w, r, fmt.Errorf("user %s has no access to project %s: %w", claims.Subject, projectID, core.ErrForbidden))
		return nil, nil, false
	}
	return claims, p, true
}
