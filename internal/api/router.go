package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/codex/internal/cms"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *cms.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))
	r.Use(UserMiddleware(svc.User))

	// URL index.
	r.Get("/urls", h.ResolveURL)
	r.Post("/urls/rebuild", h.RebuildURLs)
	r.Post("/slugs/check", h.CheckSlugs)

	// Elements.
	r.Get("/elements/{id}", h.GetElement)
	r.Get("/elements/{id}/urls", h.ElementURLs)

	// Transactions.
	r.Post("/transactions", h.Commit)
	r.Get("/transactions/{xid}", h.GetTransaction)
	r.Post("/transactions/{xid}/rollback", h.Rollback)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
