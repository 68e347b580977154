package handlers

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// Health reports per-role provider reachability alongside the service
// status. A degraded provider yields 503 so load balancers can react.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	health := a.Registry.HealthCheck(ctx)
	body := map[string]any{
		"status": "ok",
		"providers": map[string]bool{
			"analysis": health.Analysis,
			"editing":  health.Editing,
		},
	}
	if !health.Analysis || !health.Editing {
		body["status"] = "degraded"
		a.json(w, http.StatusServiceUnavailable, body)
		return
	}
	a.json(w, http.StatusOK, body)
}
