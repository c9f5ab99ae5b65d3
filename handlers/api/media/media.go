package media

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"canvas-collab/blob"
	"canvas-collab/collab"
	"canvas-collab/core"
	"canvas-collab/handlers/api/apierr"
	"canvas-collab/handlers/auth"
	"canvas-collab/middleware"
	"canvas-collab/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxUploadBytes caps a single media upload at 32 MiB.
const maxUploadBytes = 32 << 20

// HandleUpload accepts a raw media blob, writes it to blob storage, and
// registers a zero-ref record. The record stays invisible to the
// collector until the grace window passes, which covers the gap between
// upload and the create op that references it.
func HandleUpload(store stores.Store, blobs blob.Storage, svc *collab.Service, clock core.Clock) http.HandlerFunc {
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

		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"projectID": projectID,
			}).Error("Failed to read upload body")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to read upload body"})
			return
		}
		defer r.Body.Close()
		if len(data) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Upload body is empty"})
			return
		}
		if len(data) > maxUploadBytes {
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, map[string]string{"error": "Upload exceeds the 32 MiB limit"})
			return
		}

		id := uuid.NewString()
		key := path.Join("media", projectID, id)
		url, err := blobs.Put(r.Context(), key, data, contentType)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"projectID": projectID,
				"key":       key,
			}).Error("Failed to store media blob")
			apierr.Render(w, r, err)
			return
		}

		origin := core.MediaOriginUpload
		if v := r.URL.Query().Get("origin"); v != "" {
			switch core.MediaOrigin(v) {
			case core.MediaOriginCanvas, core.MediaOriginUpload, core.MediaOriginImported:
				origin = core.MediaOrigin(v)
			default:
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Unknown media origin"})
				return
			}
		}

		now := clock()
		m := &core.Media{
			ID:          id,
			ProjectID:   projectID,
			URL:         url,
			StoragePath: key,
			Origin:      origin,
			Meta: core.MediaMeta{
				Format:    contentType,
				SizeBytes: int64(len(data)),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if v := r.URL.Query().Get("width"); v != "" {
			m.Meta.Width, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("height"); v != "" {
			m.Meta.Height, _ = strconv.Atoi(v)
		}

		if err := store.CreateMedia(r.Context(), m); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"mediaID": id,
			}).Error("Failed to register media record")
			apierr.Render(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, m)
	}
}

// HandleGet returns the media record. Access follows the owning
// project's membership.
func HandleGet(store stores.Store, svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		mediaID := chi.URLParam(r, "mediaID")

		m, err := store.GetMedia(r.Context(), mediaID)
		if err != nil {
			apierr.Render(w, r, err)
			return
		}
		if _, err := svc.Guard().Check(r.Context(), m.ProjectID, claims.Subject); err != nil {
			apierr.Render(w, r, err)
			return
		}

		render.JSON(w, r, m)
	}
}

// HandleDownload streams the blob itself for backends without public
// URLs (filesystem, memory).
func HandleDownload(store stores.Store, blobs blob.Storage, svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		mediaID := chi.URLParam(r, "mediaID")

		m, err := store.GetMedia(r.Context(), mediaID)
		if err != nil {
			apierr.Render(w, r, err)
			return
		}
		if _, err := svc.Guard().Check(r.Context(), m.ProjectID, claims.Subject); err != nil {
			apierr.Render(w, r, err)
			return
		}

		data, err := blobs.Get(r.Context(), m.StoragePath)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"mediaID": mediaID,
				"key":     m.StoragePath,
			}).Error("Failed to read media blob")
			apierr.Render(w, r, err)
			return
		}

		if m.Meta.Format != "" {
			w.Header().Set("Content-Type", m.Meta.Format)
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.Write(data)
	}
}
