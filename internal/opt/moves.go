package opt

import "golang.org/x/sync/errgroup"

type moveKind uint8

const (
	moveRelocate moveKind = iota
	moveSwap
	moveTwoOpt
	moveTwoOptStar
	numMoveKinds
)

var moveNames = [numMoveKinds]string{"relocate", "swap", "two_opt", "two_opt_star"}

func (k moveKind) String() string { return moveNames[k] }

// move is a candidate change. Positions index plan.order; for a relocate
// within one route j indexes the route with the moved customer removed.
type move struct {
	kind  moveKind
	r1, i int
	r2, j int
	delta float64
}

const improveEps = 1e-9

type evalResult struct {
	best       move
	found      bool
	candidates int
}

func (r *evalResult) offer(m move) {
	r.candidates++
	if m.delta < -improveEps && (!r.found || m.delta < r.best.delta) {
		r.best, r.found = m, true
	}
}

// scorer prices arcs on the penalized objective used by guided local search.
type scorer struct {
	g       *Graph
	penalty [][]int
	lambda  float64
}

func newScorer(g *Graph) *scorer {
	n := g.p.NumLocations()
	pen := make([][]int, n)
	for i := range pen {
		pen[i] = make([]int, n)
	}
	return &scorer{g: g, penalty: pen}
}

func (sc *scorer) arc(from, to int) float64 {
	c := float64(sc.g.Cost(from, to, 0))
	if sc.lambda == 0 {
		return c
	}
	return c + sc.lambda*float64(sc.penalty[sc.g.LocationOf(from)][sc.g.LocationOf(to)])
}

// bestMove evaluates every neighborhood and returns the most improving move
// along with the number of candidates inspected. Evaluation only reads pl and
// the penalties, so neighborhoods may run on separate goroutines.
func (sc *scorer) bestMove(pl *plan, workers int) (move, bool, int) {
	evals := [numMoveKinds]func(*plan) evalResult{
		moveRelocate:   sc.bestRelocate,
		moveSwap:       sc.bestSwap,
		moveTwoOpt:     sc.bestTwoOpt,
		moveTwoOptStar: sc.bestTwoOptStar,
	}
	var results [numMoveKinds]evalResult
	if workers > 1 {
		var eg errgroup.Group
		eg.SetLimit(workers)
		for k := range evals {
			k := k
			eg.Go(func() error {
				results[k] = evals[k](pl)
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		for k := range evals {
			results[k] = evals[k](pl)
		}
	}

	var best move
	found, candidates := false, 0
	for _, r := range results {
		candidates += r.candidates
		if r.found && (!found || r.best.delta < best.delta) {
			best, found = r.best, true
		}
	}
	return best, found, candidates
}

// atSkip reads position j of route v as if position skip were removed.
func (pl *plan) atSkip(v, j, skip int) int {
	if j < 0 {
		return pl.g.Start(v)
	}
	if j >= skip {
		j++
	}
	return pl.at(v, j)
}

func (sc *scorer) bestRelocate(pl *plan) evalResult {
	var res evalResult
	for r1, route := range pl.order {
		for i, c := range route {
			a, b := pl.at(r1, i-1), pl.at(r1, i+1)
			gain := sc.arc(a, c) + sc.arc(c, b) - sc.arc(a, b)
			d := sc.g.Demand(c)
			for r2 := range pl.order {
				if r2 != r1 && pl.load[r2]+d > sc.g.Capacity(r2) {
					continue
				}
				n := len(pl.order[r2])
				if r2 == r1 {
					n--
				}
				for j := 0; j <= n; j++ {
					var p, q int
					if r2 == r1 {
						if j == i {
							continue
						}
						p, q = pl.atSkip(r1, j-1, i), pl.atSkip(r1, j, i)
					} else {
						p, q = pl.at(r2, j-1), pl.at(r2, j)
					}
					delta := sc.arc(p, c) + sc.arc(c, q) - sc.arc(p, q) - gain
					res.offer(move{kind: moveRelocate, r1: r1, i: i, r2: r2, j: j, delta: delta})
				}
			}
		}
	}
	return res
}

// bestSwap exchanges two customers served by different vehicles.
func (sc *scorer) bestSwap(pl *plan) evalResult {
	var res evalResult
	for r1 := range pl.order {
		for r2 := r1 + 1; r2 < len(pl.order); r2++ {
			for i, c1 := range pl.order[r1] {
				d1 := sc.g.Demand(c1)
				a1, b1 := pl.at(r1, i-1), pl.at(r1, i+1)
				for j, c2 := range pl.order[r2] {
					d2 := sc.g.Demand(c2)
					if pl.load[r1]-d1+d2 > sc.g.Capacity(r1) || pl.load[r2]-d2+d1 > sc.g.Capacity(r2) {
						continue
					}
					a2, b2 := pl.at(r2, j-1), pl.at(r2, j+1)
					delta := sc.arc(a1, c2) + sc.arc(c2, b1) - sc.arc(a1, c1) - sc.arc(c1, b1) +
						sc.arc(a2, c1) + sc.arc(c1, b2) - sc.arc(a2, c2) - sc.arc(c2, b2)
					res.offer(move{kind: moveSwap, r1: r1, i: i, r2: r2, j: j, delta: delta})
				}
			}
		}
	}
	return res
}

// bestTwoOpt reverses route[i..k]. Interior arcs are re-priced because
// costs may be asymmetric.
func (sc *scorer) bestTwoOpt(pl *plan) evalResult {
	var res evalResult
	for r, route := range pl.order {
		n := len(route)
		for i := 0; i < n-1; i++ {
			a := pl.at(r, i-1)
			inner := 0.0
			for k := i + 1; k < n; k++ {
				inner += sc.arc(route[k], route[k-1]) - sc.arc(route[k-1], route[k])
				b := pl.at(r, k+1)
				delta := sc.arc(a, route[k]) + sc.arc(route[i], b) - sc.arc(a, route[i]) - sc.arc(route[k], b) + inner
				res.offer(move{kind: moveTwoOpt, r1: r, i: i, r2: r, j: k, delta: delta})
			}
		}
	}
	return res
}

// bestTwoOptStar exchanges the tails of two routes after positions i and j
// (-1 cuts right after the start).
func (sc *scorer) bestTwoOptStar(pl *plan) evalResult {
	var res evalResult
	prefix := make([][]int, len(pl.order))
	for v, route := range pl.order {
		prefix[v] = make([]int, len(route)+1)
		for t, s := range route {
			prefix[v][t+1] = prefix[v][t] + sc.g.Demand(s)
		}
	}
	for r1 := range pl.order {
		n1 := len(pl.order[r1])
		for r2 := r1 + 1; r2 < len(pl.order); r2++ {
			n2 := len(pl.order[r2])
			for i := -1; i < n1; i++ {
				l1 := prefix[r1][i+1]
				a1, s1 := pl.at(r1, i), pl.at(r1, i+1)
				for j := -1; j < n2; j++ {
					if (i == -1 && j == -1) || (i == n1-1 && j == n2-1) {
						continue
					}
					l2 := prefix[r2][j+1]
					if l1+pl.load[r2]-l2 > sc.g.Capacity(r1) || l2+pl.load[r1]-l1 > sc.g.Capacity(r2) {
						continue
					}
					a2, s2 := pl.at(r2, j), pl.at(r2, j+1)
					delta := sc.arc(a1, s2) + sc.arc(a2, s1) - sc.arc(a1, s1) - sc.arc(a2, s2)
					res.offer(move{kind: moveTwoOptStar, r1: r1, i: i, r2: r2, j: j, delta: delta})
				}
			}
		}
	}
	return res
}

// apply performs m and re-checks capacity on the touched routes, restoring
// them and returning false if the move would overload a vehicle.
func (pl *plan) apply(m move) bool {
	saved1 := append([]int(nil), pl.order[m.r1]...)
	saved2 := append([]int(nil), pl.order[m.r2]...)
	switch m.kind {
	case moveRelocate:
		c := pl.order[m.r1][m.i]
		pl.order[m.r1] = append(pl.order[m.r1][:m.i:m.i], pl.order[m.r1][m.i+1:]...)
		dst := pl.order[m.r2]
		dst = append(dst, 0)
		copy(dst[m.j+1:], dst[m.j:])
		dst[m.j] = c
		pl.order[m.r2] = dst
	case moveSwap:
		pl.order[m.r1][m.i], pl.order[m.r2][m.j] = pl.order[m.r2][m.j], pl.order[m.r1][m.i]
	case moveTwoOpt:
		route := pl.order[m.r1]
		for a, b := m.i, m.j; a < b; a, b = a+1, b-1 {
			route[a], route[b] = route[b], route[a]
		}
	case moveTwoOptStar:
		o1, o2 := saved1, saved2
		n1 := append(append([]int(nil), o1[:m.i+1]...), o2[m.j+1:]...)
		n2 := append(append([]int(nil), o2[:m.j+1]...), o1[m.i+1:]...)
		pl.order[m.r1], pl.order[m.r2] = n1, n2
	}
	pl.refresh(m.r1)
	if m.r2 != m.r1 {
		pl.refresh(m.r2)
	}
	if pl.load[m.r1] > pl.g.Capacity(m.r1) || pl.load[m.r2] > pl.g.Capacity(m.r2) {
		pl.order[m.r1], pl.order[m.r2] = saved1, saved2
		pl.refresh(m.r1)
		if m.r2 != m.r1 {
			pl.refresh(m.r2)
		}
		return false
	}
	return true
}
