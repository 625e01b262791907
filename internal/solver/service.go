// Package solver runs one CVRP request end to end: matrix acquisition,
// problem construction, search and extraction.
package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vrpsolver/internal/config"
	"vrpsolver/internal/matrix"
	"vrpsolver/internal/metrics"
	"vrpsolver/internal/model"
	"vrpsolver/internal/opt"
)

// MaxTimeLimit bounds per-request time limit overrides.
const MaxTimeLimit = time.Minute

type Service struct {
	Matrix   matrix.Provider
	Settings config.Solver
	Log      *zap.Logger
}

func New(p matrix.Provider, settings config.Solver, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Matrix: p, Settings: settings, Log: log}
}

// Outcome is a successful solve.
type Outcome struct {
	Result    opt.Result
	Trace     string
	Objective matrix.Objective
	Metrics   opt.Metrics
}

// Options merges request overrides onto the configured defaults.
func (s *Service) Options(o *model.SolveOptions) opt.Options {
	out := opt.Options{
		TimeLimit:         s.Settings.TimeLimit,
		MaxIterations:     s.Settings.MaxIterations,
		StallRounds:       s.Settings.StallRounds,
		LambdaCoefficient: s.Settings.LambdaCoefficient,
		Workers:           s.Settings.Workers,
	}
	if o == nil {
		return out
	}
	if o.TimeLimitMs > 0 {
		out.TimeLimit = time.Duration(o.TimeLimitMs) * time.Millisecond
		if out.TimeLimit > MaxTimeLimit {
			out.TimeLimit = MaxTimeLimit
		}
	}
	if o.MaxIterations > 0 {
		out.MaxIterations = o.MaxIterations
	}
	if o.StallRounds > 0 {
		out.StallRounds = o.StallRounds
	}
	if o.Workers > 0 {
		out.Workers = o.Workers
	}
	return out
}

// Solve runs req under id. progress may be nil. The request is assumed to
// be shape-validated; problem-level validation happens here.
func (s *Service) Solve(ctx context.Context, id string, req model.AutoRequest, progress func(opt.Progress)) (Outcome, error) {
	start := time.Now()
	log := s.Log.With(zap.String("solution", id))
	out, err := s.solve(ctx, log, id, req, progress)
	metrics.SolveDuration.Observe(time.Since(start).Seconds())
	metrics.Solves.WithLabelValues(OutcomeLabel(err)).Inc()
	if err != nil {
		log.Info("solve failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return Outcome{}, err
	}
	metrics.SolveIterations.Observe(float64(out.Metrics.Iterations))
	opt.RecordMetrics(id, out.Metrics)
	log.Info("solve completed",
		zap.Int("total_distance", out.Result.TotalDistance),
		zap.Int("routes", len(out.Result.Routes)),
		zap.String("objective", string(out.Objective)),
		zap.Int("iterations", out.Metrics.Iterations),
		zap.String("stop", out.Metrics.StopReason),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (s *Service) solve(ctx context.Context, log *zap.Logger, id string, req model.AutoRequest, progress func(opt.Progress)) (Outcome, error) {
	coords := make([]matrix.Coordinate, len(req.Coords))
	for i, c := range req.Coords {
		coords[i] = matrix.Coordinate{Lon: c[0], Lat: c[1]}
	}
	m, err := s.Matrix.Table(ctx, coords)
	if err != nil {
		return Outcome{}, fmt.Errorf("cost matrix: %w", err)
	}
	costs, objective, err := matrix.Costs(m, len(coords), s.Settings.DurationFallback)
	if err != nil {
		return Outcome{}, fmt.Errorf("cost matrix: %w", err)
	}
	if objective == matrix.ObjectiveDuration {
		log.Warn("provider returned no distances; optimizing on duration")
	}

	p, err := opt.NewProblem(costs, req.Demands, req.VehicleCapacities)
	if err != nil {
		return Outcome{}, err
	}
	o := s.Options(req.Options)
	o.Progress = progress
	a, sm, err := opt.Solve(ctx, p, o)
	if err != nil {
		return Outcome{}, err
	}
	trace := opt.Trace(p, a)
	log.Debug("solution trace", zap.String("trace", trace))
	return Outcome{Result: opt.Extract(p, a), Trace: trace, Objective: objective, Metrics: sm}, nil
}

// BatchItem is the outcome of one entry of a route-wise batch.
type BatchItem struct {
	Route   int
	Outcome Outcome
	Err     error
}

// SolveBatch solves independent problems with bounded concurrency. A failed
// item never fails the batch. Results keep the input order.
func (s *Service) SolveBatch(ctx context.Context, id string, items []model.RouteData) []BatchItem {
	out := make([]BatchItem, len(items))
	limit := s.Settings.BatchConcurrency
	if limit < 1 {
		limit = 1
	}
	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, it := range items {
		i, it := i, it
		eg.Go(func() error {
			req := model.AutoRequest{Coords: it.Coords, Demands: it.Demands, VehicleCapacities: it.VehicleCapacities}
			res, err := s.Solve(ctx, fmt.Sprintf("%s/%d", id, it.Route), req, nil)
			out[i] = BatchItem{Route: it.Route, Outcome: res, Err: err}
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// OutcomeLabel classifies err for the solves_total metric.
func OutcomeLabel(err error) string {
	var (
		ve *opt.ValidationError
		ie *opt.InfeasibleError
		ns *opt.NoSolutionFoundError
		pe *matrix.ProviderError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &ie):
		return "infeasible"
	case errors.As(err, &ns):
		return "no_solution"
	case errors.As(err, &pe):
		return "provider_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
