package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"canvas-collab/collab"
	"canvas-collab/core"
	"canvas-collab/handlers/api/apierr"
	"canvas-collab/handlers/auth"
	"canvas-collab/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type bootstrapResponse struct {
	Project  *core.Project            `json:"project"`
	Elements map[string]*core.Element `json:"elements"`
	OpIndex  int64                    `json:"opIndex"`
	Ops      []*core.Op               `json:"ops"`
}

// HandleSave persists a snapshot. By default it pins a checkpoint at
// the log position the snapshotter derives itself; clients cannot pick
// an index, since state tagged with a foreign position would corrupt
// replay. With `{"current": true}` it overwrites the rolling current
// slot instead.
func HandleSave(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		projectID := chi.URLParam(r, "projectID")

		if _, err := svc.Guard().CheckEdit(r.Context(), projectID, claims.Subject); err != nil {
			apierr.Render(w, r, err)
			return
		}

		var body struct {
			Current bool `json:"current"`
		}
		// Body is optional; the default is a pinned checkpoint.
		_ = json.NewDecoder(r.Body).Decode(&body)
		defer r.Body.Close()

		var (
			snap *core.Snapshot
			err  error
		)
		if body.Current {
			snap, err = svc.Snapshotter().SaveCurrent(r.Context(), projectID)
		} else {
			snap, err = svc.Snapshotter().Save(r.Context(), projectID)
		}
		if err != nil {
			if !errors.Is(err, core.ErrValidation) {
				logrus.WithFields(logrus.Fields{
					"error":     err,
					"projectID": projectID,
				}).Error("Failed to save snapshot")
			}
			apierr.Render(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, snap)
	}
}

// HandleGetLatest returns the most recent snapshot, or the one nearest
// below `at` when the query parameter is present.
func HandleGetLatest(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		projectID := chi.URLParam(r, "projectID")

		if _, err := svc.Guard().Check(r.Context(), projectID, claims.Subject); err != nil {
			apierr.Render(w, r, err)
			return
		}

		var (
			snap *core.Snapshot
			err  error
		)
		if v := r.URL.Query().Get("at"); v != "" {
			at, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil || at < 0 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "at must be a non-negative integer"})
				return
			}
			snap, err = svc.Snapshotter().Load(r.Context(), projectID, at)
		} else {
			snap, err = svc.Snapshotter().LoadLatest(r.Context(), projectID)
		}
		if err != nil {
			if !errors.Is(err, core.ErrNotFound) {
				logrus.WithFields(logrus.Fields{
					"error":     err,
					"projectID": projectID,
				}).Error("Failed to load snapshot")
			}
			apierr.Render(w, r, err)
			return
		}

		render.JSON(w, r, snap)
	}
}

// HandleBootstrap hands a joining client everything it needs in one
// round trip: the project, the latest snapshot's elements, and the ops
// sequenced after it.
func HandleBootstrap(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		projectID := chi.URLParam(r, "projectID")

		if _, err := svc.Guard().Check(r.Context(), projectID, claims.Subject); err != nil {
			apierr.Render(w, r, err)
			return
		}
		project, err := svc.Guard().Project(r.Context(), projectID)
		if err != nil {
			apierr.Render(w, r, err)
			return
		}

		elements := map[string]*core.Element{}
		from := int64(0)
		snap, err := svc.Snapshotter().LoadLatest(r.Context(), projectID)
		switch {
		case err == nil:
			elements = snap.Elements
			from = snap.OpIndex + 1
			if snap.OpIndex == core.CurrentSnapshotIndex {
				// The current slot has no log position; replay from the start
				// is wrong, so resolve the real head instead.
				elements, from, err = rebuildBase(r.Context(), svc, projectID)
				if err != nil {
					apierr.Render(w, r, err)
					return
				}
			}
		case errors.Is(err, core.ErrNotFound):
			// Cold project, no snapshot yet.
		default:
			apierr.Render(w, r, err)
			return
		}

		trailing, err := svc.Sequencer().ListSince(r.Context(), projectID, from, collab.DefaultListLimit)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"projectID": projectID,
				"fromOp":    from,
			}).Error("Failed to list trailing ops for bootstrap")
			apierr.Render(w, r, err)
			return
		}
		if trailing == nil {
			trailing = []*core.Op{}
		}

		render.JSON(w, r, bootstrapResponse{
			Project:  project,
			Elements: elements,
			OpIndex:  from - 1,
			Ops:      trailing,
		})
	}
}

func rebuildBase(ctx context.Context, svc *collab.Service, projectID string) (map[string]*core.Element, int64, error) {
	elements, applied, err := svc.Snapshotter().Rebuild(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}
	return elements, applied + 1, nil
}
