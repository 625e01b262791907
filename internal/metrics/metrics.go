package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
	// RateLimited counts inbound requests rejected by the rate limiter
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected with 429."},
	)

	// Solves counts finished solves by outcome (ok, invalid, infeasible, no_solution, provider_error)
	Solves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solves_total", Help: "CVRP solves by outcome."},
		[]string{"outcome"},
	)
	// SolveDuration covers matrix acquisition, construction and search
	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "solve_duration_seconds", Help: "End-to-end solve duration in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}},
	)
	// SolveIterations records local search iterations per successful solve
	SolveIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "solve_iterations", Help: "Local search iterations per solve.", Buckets: prometheus.ExponentialBuckets(10, 4, 8)},
	)

	// MatrixRequests counts cost matrix fetches by provider and status
	MatrixRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "matrix_requests_total", Help: "Cost matrix requests by provider and status."},
		[]string{"provider", "status"},
	)
	// MatrixCache counts cache lookups by result (hit, miss, error)
	MatrixCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "matrix_cache_total", Help: "Cost matrix cache lookups by result."},
		[]string{"result"},
	)

	// LogEntries counts emitted log entries by level
	LogEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "log_entries_total", Help: "Log entries by level."},
		[]string{"level"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(RateLimited)
		Registry.MustRegister(Solves)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolveIterations)
		Registry.MustRegister(MatrixRequests)
		Registry.MustRegister(MatrixCache)
		Registry.MustRegister(LogEntries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
