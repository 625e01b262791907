package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vrpsolver/internal/model"
	"vrpsolver/internal/opt"
	"vrpsolver/internal/solver"
)

const (
	maxBodyBytes = 4 << 20
	sseHeartbeat = 15 * time.Second
)

// CVRPHandler solves one instance synchronously: POST /v1/cvrp
func (s *Server) CVRPHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.AutoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateAutoRequest(&req); err != nil {
		writeProblemBody(w, problemFor(err, r.URL.Path))
		return
	}
	id := uuid.NewString()
	sol := model.Solution{ID: id, Status: model.StatusRunning, Request: req}
	s.persist(r.Context(), sol, true)

	out, err := s.Solver.Solve(r.Context(), id, req, nil)
	sol = s.finish(sol, out, err, r.URL.Path)
	s.persist(context.WithoutCancel(r.Context()), sol, false)

	w.Header().Set("X-Solution-Id", id)
	if err != nil {
		writeProblemBody(w, *sol.Error)
		return
	}
	writeJSON(w, http.StatusOK, out.Result)
}

// RouteWiseHandler solves a batch of independent instances: POST /v1/cvrp/route-wise
func (s *Server) RouteWiseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.RouteWiseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateRouteWise(&req); err != nil {
		writeProblemBody(w, problemFor(err, r.URL.Path))
		return
	}
	items := s.Solver.SolveBatch(r.Context(), "batch-"+uuid.NewString(), req.RequestBody)
	resp := model.RouteWiseResponse{Results: make([]model.RouteWiseItem, len(items))}
	for i, it := range items {
		resp.Results[i].Route = it.Route
		if it.Err != nil {
			p := problemFor(it.Err, fmt.Sprintf("%s#%d", r.URL.Path, it.Route))
			resp.Results[i].Error = &p
			continue
		}
		res := it.Outcome.Result
		resp.Results[i].Result = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

// SolutionsHandler handles POST (async solve) and GET (list) on /v1/solutions
func (s *Server) SolutionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.AutoRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := validateAutoRequest(&req); err != nil {
			writeProblemBody(w, problemFor(err, r.URL.Path))
			return
		}
		sol := model.Solution{ID: uuid.NewString(), Status: model.StatusPending, Request: req}
		if err := s.Store.CreateSolution(r.Context(), sol); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
			return
		}
		s.wg.Add(1)
		go s.solveAsync(sol)
		w.Header().Set("Location", "/v1/solutions/"+sol.ID)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"id":     sol.ID,
			"status": sol.Status,
			"links": map[string]string{
				"self":   "/v1/solutions/" + sol.ID,
				"events": "/v1/solutions/" + sol.ID + "/events",
			},
		})
	case http.MethodGet:
		q := r.URL.Query()
		limit := 0
		if v := q.Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSolutions(r.Context(), q.Get("status"), q.Get("cursor"), limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SolutionByIDHandler serves /v1/solutions/{id} and /v1/solutions/{id}/events
func (s *Server) SolutionByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/solutions/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case len(parts) == 1:
		sol, err := s.Store.GetSolution(r.Context(), id)
		if err != nil {
			writeProblemBody(w, problemFor(err, path))
			return
		}
		writeJSON(w, http.StatusOK, sol)
	case len(parts) == 2 && parts[1] == "events":
		s.streamEvents(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

// streamEvents writes solution events as SSE until the solve finishes or the
// client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.Store.GetSolution(r.Context(), id); err != nil {
		writeProblemBody(w, problemFor(err, r.URL.Path))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"id\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	send := func(evt SSEEvent) {
		b, _ := json.Marshal(evt.Data)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", string(b))
		flusher.Flush()
	}
	heartbeat()

	// the solve may have finished before the subscription existed
	if sol, err := s.Store.GetSolution(r.Context(), id); err == nil {
		if evt, done := terminalEvent(sol); done {
			send(evt)
			return
		}
	}

	tick := time.NewTicker(sseHeartbeat)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if evt.terminal() {
				return
			}
		case <-tick.C:
			heartbeat()
		}
	}
}

// solveAsync runs a stored pending solution and publishes its events.
func (s *Server) solveAsync(sol model.Solution) {
	defer s.wg.Done()
	ctx := s.bg
	writeCtx := context.WithoutCancel(ctx)
	sol.Status = model.StatusRunning
	s.persist(writeCtx, sol, false)

	progress := func(p opt.Progress) {
		s.Broker.Publish(sol.ID, SSEEvent{Type: EventProgress, Data: map[string]any{
			"id":        sol.ID,
			"iteration": p.Iteration,
			"bestCost":  p.BestCost,
			"elapsedMs": p.Elapsed.Milliseconds(),
		}})
	}
	out, err := s.Solver.Solve(ctx, sol.ID, sol.Request, progress)
	sol = s.finish(sol, out, err, "/v1/solutions/"+sol.ID)
	s.persist(writeCtx, sol, false)
	evt, _ := terminalEvent(sol)
	s.Broker.Publish(sol.ID, evt)
}

// finish records the outcome of a solve on sol.
func (s *Server) finish(sol model.Solution, out solver.Outcome, err error, instance string) model.Solution {
	if err != nil {
		p := problemFor(err, instance)
		sol.Status, sol.Error = model.StatusFailed, &p
		return sol
	}
	res, m := out.Result, out.Metrics
	sol.Status = model.StatusCompleted
	sol.Objective = string(out.Objective)
	sol.Result, sol.Trace, sol.Metrics = &res, out.Trace, &m
	return sol
}

// persist writes sol; store failures never fail the solve itself.
func (s *Server) persist(ctx context.Context, sol model.Solution, create bool) {
	var err error
	if create {
		err = s.Store.CreateSolution(ctx, sol)
	} else {
		err = s.Store.UpdateSolution(ctx, sol)
	}
	if err != nil {
		s.Log.Warn("persist solution", zap.String("solution", sol.ID), zap.String("status", sol.Status), zap.Error(err))
	}
}

func terminalEvent(sol model.Solution) (SSEEvent, bool) {
	switch sol.Status {
	case model.StatusCompleted:
		return SSEEvent{Type: EventCompleted, Data: map[string]any{"id": sol.ID, "objective": sol.Objective, "result": sol.Result}}, true
	case model.StatusFailed:
		return SSEEvent{Type: EventFailed, Data: map[string]any{"id": sol.ID, "error": sol.Error}}, true
	}
	return SSEEvent{}, false
}

// SolverConfigHandler returns the effective solver defaults: GET /v1/solver/config
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c := s.Config.Solver
	writeJSON(w, http.StatusOK, map[string]any{
		"timeLimitMs":       c.TimeLimit.Milliseconds(),
		"maxTimeLimitMs":    solver.MaxTimeLimit.Milliseconds(),
		"maxIterations":     c.MaxIterations,
		"stallRounds":       c.StallRounds,
		"lambdaCoefficient": c.LambdaCoefficient,
		"workers":           c.Workers,
		"durationFallback":  c.DurationFallback,
		"batchConcurrency":  c.BatchConcurrency,
		"matrixProvider":    s.Config.Matrix.Provider,
		"profile":           s.Config.Matrix.Profile,
	})
}

// SolveMetricsHandler lists metrics of recent solves: GET /v1/admin/solve-metrics
func (s *Server) SolveMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		m, ok := opt.GetMetrics(id)
		if !ok {
			writeProblem(w, http.StatusNotFound, "Not Found", "no metrics for "+id, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, opt.RecordedMetrics{ID: id, Metrics: m})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, opt.RecentMetrics(limit))
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}
