// Package api assembles the HTTP surface: public webhook and health routes,
// and the authenticated job API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/yoyaba/gtmdocs/internal/api/middleware"
	"github.com/yoyaba/gtmdocs/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth *mw.Auth

	RootHandler     http.HandlerFunc
	HealthHandler   http.HandlerFunc
	MetricsHandler  http.Handler
	GenerateHandler http.HandlerFunc
	StatusHandler   http.HandlerFunc
	WebhookHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
// The webhook route sits outside the API-key group: it authenticates by
// signature instead.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/", orNotImplemented(deps.RootHandler))
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Post("/webhook/openai", orNotImplemented(deps.WebhookHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Post("/api/v1/generate", orNotImplemented(deps.GenerateHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.StatusHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
