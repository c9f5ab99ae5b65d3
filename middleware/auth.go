package middleware

import (
	"context"
	"net/http"
	"strings"

	"canvas-collab/handlers/auth"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type contextKey string

const ClaimsContextKey = contextKey("claims")

// bearerToken pulls the JWT from the Authorization header, falling back
// to the access_token query parameter for clients that cannot set
// headers (image tags loading media content).
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", "Authorization header format must be Bearer {token}"
		}
		return parts[1], ""
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, ""
	}
	return "", "Authorization is required"
}

func AuthJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, problem := bearerToken(r)
		if problem != "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": problem})
			return
		}

		claims, err := auth.ParseJWT(token)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error": err,
				"path":  r.URL.Path,
			}).Debug("Rejected token")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Invalid token"})
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
