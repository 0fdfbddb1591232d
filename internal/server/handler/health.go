package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each component ping.
const healthCheckTimeout = 3 * time.Second

// HealthHandler serves the health-check endpoint, pinging each registered
// backing component.
type HealthHandler struct {
	checks map[string]func(context.Context) error
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]func(context.Context) error),
		logger: logger,
	}
}

// AddCheck registers a named component ping, called on every health request.
func (h *HealthHandler) AddCheck(name string, check func(context.Context) error) {
	h.checks[name] = check
}

// HealthCheck reports overall and per-component status. Any failing
// component degrades the response to 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()

		if err != nil {
			healthy = false
			components[name] = err.Error()
			h.logger.WarnContext(r.Context(), "health: component check failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		components[name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
