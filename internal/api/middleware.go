// Package api implements the codex admin REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/starford/codex/internal/models"
)

// UserHeader carries the id of the user a request acts as.
const UserHeader = "X-User-ID"

type userKey struct{}

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry a valid "Authorization: Bearer <token>" header.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserLookup resolves a user id; "" means anonymous.
type UserLookup func(ctx context.Context, id string) (*models.User, error)

// UserMiddleware attaches the user named by UserHeader to the request
// context. Unknown users are rejected.
func UserMiddleware(lookup UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := lookup(r.Context(), strings.TrimSpace(r.Header.Get(UserHeader)))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("unknown user"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
		})
	}
}

// UserFrom returns the request user, or the anonymous user.
func UserFrom(ctx context.Context) *models.User {
	if u, ok := ctx.Value(userKey{}).(*models.User); ok && u != nil {
		return u
	}
	return models.Anonymous()
}
