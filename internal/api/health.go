package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	serviceName        = "Voice Call Relay"
	serviceVersion     = "1.0.0"
	healthCheckTimeout = 5 * time.Second
)

// HealthHandler serves the service banner and readiness check.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// RegisterHealth registers the banner and readiness routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/", h.Info)
	r.Get("/ready", h.Ready)
}

// Info reports the service identity and how many calls are live.
func (h *HealthHandler) Info(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"service":      serviceName,
		"version":      serviceVersion,
		"active_calls": h.calls.Registry().Len(),
	})
}

// Ready returns the health status of the API and its dependencies.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if h.ledger == nil {
		checks["ledger"] = "disabled"
	} else if err := h.ledger.Ping(ctx); err != nil {
		h.logger.Error("Ledger health check failed", "error", err)
		checks["ledger"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["ledger"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
