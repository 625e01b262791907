package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vrpsolver/internal/metrics"
)

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Solving
	mux.HandleFunc("/v1/cvrp", s.CVRPHandler)
	mux.HandleFunc("/v1/cvrp/route-wise", s.RouteWiseHandler)
	mux.HandleFunc("/v1/solutions", s.SolutionsHandler)
	mux.HandleFunc("/v1/solutions/", s.SolutionByIDHandler) // includes /events
	mux.HandleFunc("/v1/ws", s.WSHandler)

	// Config and admin
	mux.HandleFunc("/v1/solver/config", s.SolverConfigHandler)
	mux.HandleFunc("/v1/admin/solve-metrics", s.SolveMetricsHandler)

	// Health, docs and introspection
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/vars", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

// Handler wraps Routes with rate limiting and request logging.
func (s *Server) Handler() http.Handler {
	limited := NewRateLimiter(s.Config.RateRPS, s.Config.RateBurst, s.Config.TrustProxy).Wrap(s.Routes())
	return Middleware(s.Log.Named("http"), limited)
}
