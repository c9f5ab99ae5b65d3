// Package apierr maps the engine's error taxonomy onto HTTP responses.
package apierr

import (
	"errors"
	"net/http"

	"canvas-collab/core"

	"github.com/go-chi/render"
)

// Render writes the status code and JSON body for an engine error.
func Render(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrUnavailable), errors.Is(err, core.ErrConflict):
		status = http.StatusServiceUnavailable
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": err.Error()})
}
