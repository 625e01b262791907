package opt

import (
	"context"
	"math/rand"
	"time"
)

// Options tunes a solve. Zero values fall back to DefaultOptions.
type Options struct {
	TimeLimit         time.Duration // wall-clock budget for construction and search
	MaxIterations     int           // optional cap on search iterations
	StallRounds       int           // stop after this many penalty rounds without a new best; 0 disables
	LambdaCoefficient float64       // guided local search penalty weight
	Workers           int           // goroutines evaluating neighborhoods
	Seed              int64         // randomizes capacity repair restarts
	Progress          func(Progress)
}

func DefaultOptions() Options {
	return Options{TimeLimit: time.Second, LambdaCoefficient: 0.1, Workers: 1}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TimeLimit <= 0 {
		o.TimeLimit = d.TimeLimit
	}
	if o.LambdaCoefficient <= 0 {
		o.LambdaCoefficient = d.LambdaCoefficient
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// Progress is reported after construction and whenever the best cost drops.
type Progress struct {
	Iteration int           `json:"iteration"`
	BestCost  int           `json:"bestCost"`
	Elapsed   time.Duration `json:"elapsedNs"`
}

type Metrics struct {
	Iterations    int            `json:"iterations"`
	Improvements  int            `json:"improvements"`
	PenaltyRounds int            `json:"penaltyRounds"`
	Moves         map[string]int `json:"moves"`
	InitialCost   int            `json:"initialCost"`
	BestCost      int            `json:"bestCost"`
	Repaired      bool           `json:"repaired"`
	Elapsed       time.Duration  `json:"elapsedNs"`
	StopReason    string         `json:"stopReason"`
}

// Solve builds a feasible assignment with the cheapest-arc construction and
// improves it with guided local search until the time budget, the context,
// or a stop condition ends the search. The best assignment seen is returned.
//
// Results are not reproducible across runs: the amount of search done
// depends on wall-clock time.
func Solve(ctx context.Context, p *Problem, opts Options) (*Assignment, Metrics, error) {
	start := time.Now()
	opts = opts.withDefaults()
	m := Metrics{Moves: map[string]int{}}
	if err := p.checkFeasible(); err != nil {
		return nil, m, err
	}
	deadline := start.Add(opts.TimeLimit)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	g := NewGraph(p)
	rng := rand.New(rand.NewSource(opts.Seed))
	cur, repaired, err := construct(ctx, g, deadline, rng)
	m.Repaired = repaired
	if err != nil {
		if ns, ok := err.(*NoSolutionFoundError); ok {
			ns.Budget = opts.TimeLimit
		}
		m.Elapsed = time.Since(start)
		return nil, m, err
	}
	m.InitialCost = cur.total

	s := &search{g: g, sc: newScorer(g), opts: opts, start: start}
	s.report(0, cur.total)
	best := s.run(ctx, cur, deadline, &m)
	m.BestCost = best.total
	m.Elapsed = time.Since(start)
	return best.assignment(), m, nil
}

type search struct {
	g     *Graph
	sc    *scorer
	opts  Options
	start time.Time
}

func (s *search) report(iter, cost int) {
	if s.opts.Progress != nil {
		s.opts.Progress(Progress{Iteration: iter, BestCost: cost, Elapsed: time.Since(s.start)})
	}
}

func (s *search) run(ctx context.Context, cur *plan, deadline time.Time, m *Metrics) *plan {
	best := cur.clone()
	if best.total == 0 {
		m.StopReason = "optimal"
		return best
	}
	stall := 0
	for {
		if ctx.Err() != nil {
			m.StopReason = "canceled"
			break
		}
		if !time.Now().Before(deadline) {
			m.StopReason = "time_limit"
			break
		}
		if s.opts.MaxIterations > 0 && m.Iterations >= s.opts.MaxIterations {
			m.StopReason = "iteration_limit"
			break
		}
		m.Iterations++

		mv, ok, candidates := s.sc.bestMove(cur, s.opts.Workers)
		if candidates == 0 {
			m.StopReason = "empty_neighborhood"
			break
		}
		if ok && cur.apply(mv) {
			m.Moves[mv.kind.String()]++
			if cur.total < best.total {
				best = cur.clone()
				m.Improvements++
				stall = 0
				s.report(m.Iterations, best.total)
				if best.total == 0 {
					m.StopReason = "optimal"
					break
				}
			}
			continue
		}

		// local optimum of the penalized objective
		if !s.penalize(cur) {
			m.StopReason = "no_improving_move"
			break
		}
		m.PenaltyRounds++
		stall++
		if s.opts.StallRounds > 0 && stall >= s.opts.StallRounds {
			m.StopReason = "stalled"
			break
		}
	}
	return best
}

// penalize raises the penalty of the arcs of pl with maximal utility
// cost/(1+penalty). It returns false when no arc has positive utility.
func (s *search) penalize(pl *plan) bool {
	sc := s.sc
	arcs, maxUtil := 0, 0.0
	eachArc(pl, func(from, to int) {
		arcs++
		if u := s.utility(from, to); u > maxUtil {
			maxUtil = u
		}
	})
	if arcs == 0 || maxUtil <= 0 {
		return false
	}
	if sc.lambda == 0 {
		sc.lambda = s.opts.LambdaCoefficient * float64(pl.total) / float64(arcs)
	}
	eachArc(pl, func(from, to int) {
		if s.utility(from, to) >= maxUtil-improveEps {
			sc.penalty[s.g.LocationOf(from)][s.g.LocationOf(to)]++
		}
	})
	return true
}

func (s *search) utility(from, to int) float64 {
	pen := s.sc.penalty[s.g.LocationOf(from)][s.g.LocationOf(to)]
	return float64(s.g.Cost(from, to, 0)) / float64(1+pen)
}

// eachArc visits the arcs of every non-empty route.
func eachArc(pl *plan, fn func(from, to int)) {
	for v, route := range pl.order {
		if len(route) == 0 {
			continue
		}
		prev := pl.g.Start(v)
		for t := 0; t <= len(route); t++ {
			next := pl.at(v, t)
			fn(prev, next)
			prev = next
		}
	}
}
