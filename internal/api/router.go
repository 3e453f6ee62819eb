package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/itemservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced; rps/burst
// configure the per-client token-bucket admission (rps <= 0 disables it).
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *itemservice.Service, authEnabled bool, token string, rps float64, burst int, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(RateLimitMiddleware(rps, burst))
	r.Use(AuthMiddleware(authEnabled, token))

	// Items CRUD.
	r.Get("/items/{type}", h.ListItems)
	r.Post("/items/{type}", h.CreateItem)
	r.Get("/items/{type}/{id}", h.GetItem)
	r.Patch("/items/{type}/{id}", h.UpdateItem)
	r.Delete("/items/{type}/{id}", h.DeleteItem)

	// Search.
	r.Get("/search", h.Search)
	r.Get("/search/tag", h.SearchByTag)

	// Vocabularies.
	r.Get("/tags", h.ListTags)
	r.Delete("/tags/{name}", h.DeleteTag)
	r.Get("/statuses", h.ListStatuses)

	// Type registry.
	r.Get("/types", h.ListTypes)
	r.Post("/types", h.CreateType)
	r.Delete("/types/{name}", h.DeleteType)

	// Index maintenance.
	r.Post("/index/rebuild", h.RebuildIndex)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
