package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/storefront/storefront-backend/pkg/auth"
	"github.com/storefront/storefront-backend/pkg/httputil"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// RouterConfig wires the handlers into one HTTP router
type RouterConfig struct {
	Batches        *BatchHandler
	SalesHistory   *SalesHistoryHandler
	Stock          *StockHandler
	Health         *HealthHandler
	Verifier       *auth.Verifier
	AllowedOrigins []string
	Logger         *logger.Logger
}

// NewRouter builds the inventory service router. Everything under /api/v1
// requires an admin or staff token; reconciliation requires admin.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(cfg.Logger))
	r.Use(httputil.Recoverer(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", cfg.Health.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.AdminAuth(cfg.Verifier, cfg.Logger, auth.RoleAdmin, auth.RoleStaff))

		r.Route("/inventory-batches", func(r chi.Router) {
			r.Get("/", cfg.Batches.List)
			r.Post("/", cfg.Batches.Create)
			r.Get("/product/{productId}", cfg.Batches.ListByProduct)
			r.Get("/{batchNumber}", cfg.Batches.Get)
			r.Put("/{batchNumber}", cfg.Batches.Update)
			r.Delete("/{batchNumber}", cfg.Batches.Delete)
		})

		r.Get("/sales-history/batch-items/{orderId}", cfg.SalesHistory.BatchItems)
		r.Get("/products/{productId}/stock", cfg.Stock.Get)

		r.With(auth.AdminAuth(cfg.Verifier, cfg.Logger, auth.RoleAdmin)).
			Post("/stock/update-all", cfg.Stock.UpdateAll)
	})

	return r
}
