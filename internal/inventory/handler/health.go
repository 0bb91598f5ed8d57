package handler

import (
	"context"
	"net/http"

	"github.com/storefront/storefront-backend/pkg/httputil"
)

// HealthChecker reports the state of one dependency
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

// HealthHandler reports dependency health
type HealthHandler struct {
	service string
	checks  map[string]HealthChecker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service string, checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{service: service, checks: checks}
}

// Health answers 200 when every dependency is up and 503 otherwise
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "healthy",
		"service": h.service,
	}

	for name, check := range h.checks {
		result := check.Health(r.Context())
		body[name] = result
		if result["status"] != "up" {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	httputil.JSON(w, status, "", body)
}
