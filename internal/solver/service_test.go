package solver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpsolver/internal/config"
	"vrpsolver/internal/matrix"
	"vrpsolver/internal/metrics"
	"vrpsolver/internal/model"
	"vrpsolver/internal/opt"
)

type fixedProvider struct {
	m   matrix.Matrix
	err error
}

func (f fixedProvider) Table(ctx context.Context, coords []matrix.Coordinate) (matrix.Matrix, error) {
	if f.err != nil {
		return matrix.Matrix{}, f.err
	}
	if f.m.Distances == nil && f.m.Durations == nil {
		return matrix.Haversine{}.Table(ctx, coords)
	}
	return f.m, nil
}

func settings() config.Solver {
	s := config.Default().Solver
	s.TimeLimit = 100 * time.Millisecond
	s.MaxIterations = 200
	return s
}

func line(n int) model.AutoRequest {
	req := model.AutoRequest{VehicleCapacities: []int{n, n}}
	for i := 0; i < n; i++ {
		req.Coords = append(req.Coords, []float64{13.4 + float64(i)*0.01, 52.5})
		d := 1
		if i == 0 {
			d = 0
		}
		req.Demands = append(req.Demands, d)
	}
	return req
}

func TestServiceSolve(t *testing.T) {
	svc := New(fixedProvider{}, settings(), nil)
	before := testutil.ToFloat64(metrics.Solves.WithLabelValues("ok"))
	var progress []opt.Progress

	out, err := svc.Solve(context.Background(), "t-solve", line(5), func(p opt.Progress) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, matrix.ObjectiveDistance, out.Objective)
	assert.Equal(t, 4, out.Result.TotalLoad)
	assert.NotEmpty(t, out.Result.Routes)
	assert.Contains(t, out.Trace, "Total distance of all routes")
	assert.NotEmpty(t, progress)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Solves.WithLabelValues("ok")))

	m, ok := opt.GetMetrics("t-solve")
	require.True(t, ok)
	assert.Equal(t, out.Metrics.BestCost, m.BestCost)
}

func TestServiceDurationFallback(t *testing.T) {
	durations := matrix.Matrix{Durations: [][]float64{{0, 4.9, 3}, {5, 0, 2}, {3, 2.2, 0}}}
	req := model.AutoRequest{Coords: [][]float64{{0, 0}, {0, 1}, {1, 0}}, Demands: []int{0, 1, 1}, VehicleCapacities: []int{5}}

	svc := New(fixedProvider{m: durations}, settings(), nil)
	out, err := svc.Solve(context.Background(), "t-dur", req, nil)
	require.NoError(t, err)
	assert.Equal(t, matrix.ObjectiveDuration, out.Objective)
	assert.Equal(t, 4+2+3, out.Result.TotalDistance)

	strict := settings()
	strict.DurationFallback = false
	_, err = New(fixedProvider{m: durations}, strict, nil).Solve(context.Background(), "t-dur2", req, nil)
	var pe *matrix.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "provider_error", OutcomeLabel(err))
}

func TestServiceErrors(t *testing.T) {
	svc := New(fixedProvider{}, settings(), nil)

	bad := line(3)
	bad.Demands = bad.Demands[:2]
	_, err := svc.Solve(context.Background(), "t-bad", bad, nil)
	var ve *opt.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "demands", ve.Field)

	tight := line(3)
	tight.VehicleCapacities = []int{1}
	_, err = svc.Solve(context.Background(), "t-tight", tight, nil)
	var ie *opt.InfeasibleError
	require.ErrorAs(t, err, &ie)

	down := New(fixedProvider{err: &matrix.ProviderError{Provider: "osrm", Reason: "down"}}, settings(), nil)
	_, err = down.Solve(context.Background(), "t-down", line(3), nil)
	var pe *matrix.ProviderError
	require.ErrorAs(t, err, &pe)
}

func TestServiceBatch(t *testing.T) {
	svc := New(fixedProvider{}, settings(), nil)
	items := []model.RouteData{
		{Route: 7, Coords: line(4).Coords, Demands: line(4).Demands, VehicleCapacities: []int{10}},
		{Route: 8, Coords: line(3).Coords, Demands: []int{0, 9, 9}, VehicleCapacities: []int{5}},
		{Route: 9, Coords: line(2).Coords, Demands: line(2).Demands, VehicleCapacities: []int{1}},
	}
	out := svc.SolveBatch(context.Background(), "batch", items)
	require.Len(t, out, 3)
	assert.Equal(t, []int{7, 8, 9}, []int{out[0].Route, out[1].Route, out[2].Route})
	assert.NoError(t, out[0].Err)
	assert.Equal(t, 3, out[0].Outcome.Result.TotalLoad)
	assert.Equal(t, "infeasible", OutcomeLabel(out[1].Err))
	assert.NoError(t, out[2].Err)
}

func TestOptionsOverrides(t *testing.T) {
	svc := New(fixedProvider{}, settings(), nil)
	o := svc.Options(nil)
	assert.Equal(t, 100*time.Millisecond, o.TimeLimit)

	o = svc.Options(&model.SolveOptions{TimeLimitMs: 250, Workers: 3, StallRounds: 9})
	assert.Equal(t, 250*time.Millisecond, o.TimeLimit)
	assert.Equal(t, 3, o.Workers)
	assert.Equal(t, 9, o.StallRounds)
	assert.Equal(t, 200, o.MaxIterations)

	o = svc.Options(&model.SolveOptions{TimeLimitMs: int(time.Hour / time.Millisecond)})
	assert.Equal(t, MaxTimeLimit, o.TimeLimit)
}

func TestOutcomeLabel(t *testing.T) {
	cases := map[string]error{
		"ok":          nil,
		"invalid":     fmt.Errorf("wrap: %w", &opt.ValidationError{Field: "x"}),
		"no_solution": &opt.NoSolutionFoundError{},
		"canceled":    context.Canceled,
		"error":       errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, OutcomeLabel(err))
	}
}
