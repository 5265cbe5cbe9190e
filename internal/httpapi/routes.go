package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shayc/conductor/internal/authn"
)

// NewRouter builds the full chi router: liveness/readiness/metrics probes
// are left unauthenticated so a load balancer or scraper never needs a
// bearer token, everything under /v1 requires one.
func NewRouter(h *Handlers, verifier authn.Verifier) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(authn.Middleware(verifier))
		r.Post("/chat", h.PostChat)
		r.Get("/plans/{planID}", h.GetPlan)
		r.Get("/agents", h.ListAgents)
	})

	r.NotFound(NotFoundHandler)

	return r
}

// NotFoundHandler renders a JSON 404, matching every other error response
// shape instead of chi's plain-text default.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}
