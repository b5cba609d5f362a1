package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/yoyaba/gtmdocs/internal/api/response"
)

// HealthCheck probes one collaborator (database, claim store).
type HealthCheck func(ctx context.Context) error

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. Each
// named check is probed per request; any failure degrades the report to 503.
func NewHealthHandler(version string, checks map[string]HealthCheck) http.HandlerFunc {
	started := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string, len(checks))
		degraded := false
		for name, check := range checks {
			services[name] = "ok"
			if err := check(r.Context()); err != nil {
				services[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}

		response.JSON(w, map[string]any{
			"status":         "ok",
			"version":        version,
			"uptime_seconds": int(time.Since(started).Seconds()),
			"services":       services,
		})
	}
}

// NewRootHandler returns a service descriptor for GET /.
func NewRootHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, map[string]any{
			"service": "gtmdocs",
			"version": version,
			"endpoints": map[string]string{
				"generate": "POST /api/v1/generate",
				"status":   "GET /api/v1/jobs/{jobID}",
				"webhook":  "POST /webhook/openai",
				"health":   "GET /api/v1/health",
				"metrics":  "GET /metrics",
			},
		})
	}
}
