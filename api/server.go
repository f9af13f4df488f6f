/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. zap logger: Structured request logging
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/login              Credential check
  /api/items/*            Catalog items and images
  /api/categories/*       Categories, their items and groups
  /api/groups/*           Attribute groups and attributes
  /api/users/*            Users, balances, discounts, history
  /api/purchases          Append a purchase entry
  /api/restocks           Append a restock entry (admin)
  /api/topups             Append a topup entry (admin)
  /api/transfers          Append a transfer entry
  /api/entries/*          Ledger audit (admin)
  /api/reconcile          Ledger replay vs projections (admin)
  /api/votes              Wishlist votes

SECURITY NOTE:
  Identity arrives via X-User-ID / X-User-Admin headers set by the auth
  collaborator (reverse proxy). The core trusts them; see session.go.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-User-Admin"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.Login)

		// Catalog
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/low-stock", h.LowStock)
			r.Get("/wishlist", h.Wishlist)
			r.Get("/{code}", h.GetItem)
			r.Put("/{code}", h.UpdateItem)
			r.Delete("/{code}", h.DisableItem)
			r.Post("/{code}/image", h.SetItemImage)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Delete("/{id}", h.DeleteCategory)
			r.Get("/{id}/items", h.ItemsByCategory)
			r.Get("/{id}/groups", h.GroupsByCategory)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroup)
			r.Post("/{code}/attributes", h.CreateAttribute)
		})

		// Accounts
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/history", h.GetHistory)
			r.Put("/{id}/discount", h.SetDiscount)
			r.Put("/{id}/enabled", h.SetEnabled)
			r.Post("/{id}/image", h.SetUserImage)
		})

		r.Post("/votes", h.Vote)

		// Ledger
		r.Post("/purchases", h.Purchase)
		r.Post("/restocks", h.Restock)
		r.Post("/topups", h.Topup)
		r.Post("/transfers", h.Transfer)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Put("/{id}/verified", h.SetVerified)
		})

		r.Post("/reconcile", h.Reconcile)
	})

	return r
}
