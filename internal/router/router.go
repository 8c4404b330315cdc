package router

import (
	"net/http"

	"martstock-api/internal/handler"
	"martstock-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	InventoryHandler *handler.InventoryHandler
	AuditHandler     *handler.AuditHandler
	AdminHandler     *handler.AdminHandler
	AuthHandler      *handler.AuthHandler
	AuthMiddleware   func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", "X-Session-Token"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	// AUTHENTICATED routes (use Group to apply auth middleware only to these)
	r.Group(func(r chi.Router) {
		// Apply auth middleware only to this group
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		// API v1 routes
		r.Route("/api/v1", func(r chi.Router) {
			// Health check endpoints
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			// Auth endpoints
			if cfg.AuthHandler != nil {
				r.Route("/auth", func(r chi.Router) {
					r.Post("/login", cfg.AuthHandler.Login)
					r.Post("/logout", cfg.AuthHandler.Logout)
					r.Post("/refresh", cfg.AuthHandler.Refresh)
				})
			}

			// Inventory read endpoints
			if cfg.InventoryHandler != nil {
				r.Route("/inventory", func(r chi.Router) {
					r.Get("/products", cfg.InventoryHandler.ListProducts)
					r.Get("/products/{product_id}/stock", cfg.InventoryHandler.ProductStock)
					r.Get("/batches", cfg.InventoryHandler.ListBatches)
					r.Get("/expiring", cfg.InventoryHandler.Expiring)
					r.Get("/barcode/{code}", cfg.InventoryHandler.Barcode)
					r.Get("/stats", cfg.InventoryHandler.Stats)
				})

				// Scan transaction endpoints
				r.Route("/scan", func(r chi.Router) {
					r.Post("/in", cfg.InventoryHandler.ScanIn)
					r.Post("/out", cfg.InventoryHandler.ScanOut)
				})
			}

			// Audit trail endpoints
			if cfg.AuditHandler != nil {
				r.Get("/audit-logs", cfg.AuditHandler.List)
			}

			// Admin endpoints
			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Post("/products", cfg.AdminHandler.CreateProduct)
					r.Put("/products/{product_id}", cfg.AdminHandler.UpdateProduct)
					r.Post("/batches/{batch_id}/adjust", cfg.AdminHandler.AdjustBatch)
					r.Post("/reload", cfg.AdminHandler.RetryLoad)
					r.Post("/resync", cfg.AdminHandler.ForceResync)
				})
			}
		})
	})

	return r
}
