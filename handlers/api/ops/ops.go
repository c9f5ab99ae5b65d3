package ops

import (
	"encoding/json"
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

type appendResponse struct {
	OpID    string `json:"opId"`
	OpIndex int64  `json:"opIndex"`
}

type listResponse struct {
	Ops      []*core.Op `json:"ops"`
	NextFrom int64      `json:"nextFrom"`
}

// HandleAppend sequences one client-submitted operation against the
// project log and returns its definitive index.
func HandleAppend(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		projectID := chi.URLParam(r, "projectID")

		var draft core.OpDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid op payload"})
			return
		}
		defer r.Body.Close()

		op, err := svc.AppendOp(r.Context(), projectID, claims.Subject, &draft)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"userID":    claims.Subject,
				"projectID": projectID,
				"opType":    draft.Type,
			}).Warn("Failed to append op")
			apierr.Render(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, appendResponse{OpID: op.ID, OpIndex: op.OpIndex})
	}
}

// HandleList returns ops with opIndex >= fromOp in ascending order,
// capped at limit, for clients catching up after a snapshot or a
// dropped connection.
func HandleList(svc *collab.Service) http.HandlerFunc {
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

		from := int64(0)
		if v := r.URL.Query().Get("fromOp"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil || parsed < 0 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "fromOp must be a non-negative integer"})
				return
			}
			from = parsed
		}
		limit := collab.DefaultListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		list, err := svc.Sequencer().ListSince(r.Context(), projectID, from, limit)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"projectID": projectID,
				"fromOp":    from,
			}).Error("Failed to list ops")
			apierr.Render(w, r, err)
			return
		}
		if list == nil {
			list = []*core.Op{}
		}

		next := from
		if len(list) > 0 {
			next = list[len(list)-1].OpIndex + 1
		}
		render.JSON(w, r, listResponse{Ops: list, NextFrom: next})
	}
}

// HandleUndo appends the inverse of a previously sequenced op. The
// original op stays in the log untouched.
func HandleUndo(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		projectID := chi.URLParam(r, "projectID")
		opID := chi.URLParam(r, "opID")

		var body struct {
			RequestID string `json:"requestId"`
		}
		// Body is optional; an undo without a request id is simply not
		// replay-safe.
		_ = json.NewDecoder(r.Body).Decode(&body)
		defer r.Body.Close()

		op, err := svc.Undo(r.Context(), projectID, claims.Subject, opID, body.RequestID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":     err,
				"userID":    claims.Subject,
				"projectID": projectID,
				"opID":      opID,
			}).Warn("Failed to undo op")
			apierr.Render(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, appendResponse{OpID: op.ID, OpIndex: op.OpIndex})
	}
}
