package api

import (
	"net/http"
	"time"

	"vrpsolver/internal/buildinfo"
)

// DebugJSON reports build info and the effective configuration without
// secrets: GET /debug/vars
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":              c.Port,
			"RATE_RPS":          c.RateRPS,
			"RATE_BURST":        c.RateBurst,
			"TRUST_PROXY":       c.TrustProxy,
			"LOG_LEVEL":         c.Log.Level,
			"MATRIX_PROVIDER":   c.Matrix.Provider,
			"MATRIX_OSRM_URL":   c.Matrix.OSRMURL,
			"MATRIX_PROFILE":    c.Matrix.Profile,
			"MATRIX_CACHE_TTL":  c.Matrix.CacheTTL.String(),
			"SOLVER_TIME_LIMIT": c.Solver.TimeLimit.String(),
			"SOLVER_WORKERS":    c.Solver.Workers,
			"HAS_DATABASE_URL":  c.DatabaseURL != "",
			"HAS_REDIS_URL":     c.RedisURL != "",
		},
	})
}
