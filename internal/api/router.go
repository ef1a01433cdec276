package api

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medcatmlflow/engine/internal/api/handlers"
	mw "github.com/medcatmlflow/engine/internal/api/middleware"
)

type Dependencies struct {
	Health             *handlers.HealthHandler
	ModelsHandler      *handlers.ModelsHandler
	DatasetsHandler    *handlers.DatasetsHandler
	PerformanceHandler *handlers.PerformanceHandler

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	if dep.RateLimit > 0 {
		r.Use(mw.RateLimit(dep.RateLimit, int(2*dep.RateLimit)+1, dep.TrustedProxies))
	}
	r.Use(chimid.Compress(5))

	hh := dep.Health
	if hh == nil {
		hh = handlers.NewHealthHandler()
	}
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/models", func(mr chi.Router) {
			mr.Get("/", dep.ModelsHandler.List)
			mr.Post("/register", dep.ModelsHandler.Register)
			mr.Post("/cui-counts", dep.ModelsHandler.CUICounts)
			mr.Get("/{id}", dep.ModelsHandler.Get)
			mr.Get("/{id}/history", dep.ModelsHandler.History)
			mr.Post("/{id}/recalculate", dep.ModelsHandler.Recalculate)
		})
		api.Get("/trees", dep.ModelsHandler.Trees)

		api.Route("/datasets", func(dr chi.Router) {
			dr.Get("/", dep.DatasetsHandler.List)
			dr.Post("/", dep.DatasetsHandler.Create)
			dr.Delete("/{name}", dep.DatasetsHandler.Delete)
		})

		api.Post("/performance", dep.PerformanceHandler.Calculate)
	})

	return r
}
