package opt

// plan is the mutable search state: one customer-slot sequence per vehicle
// with cached loads and route costs.
type plan struct {
	g     *Graph
	order [][]int
	load  []int
	cost  []int
	total int
}

func newPlan(g *Graph) *plan {
	v := g.NumVehicles()
	pl := &plan{g: g, order: make([][]int, v), load: make([]int, v), cost: make([]int, v)}
	for i := 0; i < v; i++ {
		pl.refresh(i)
	}
	return pl
}

func (pl *plan) clone() *plan {
	out := &plan{
		g:     pl.g,
		order: make([][]int, len(pl.order)),
		load:  append([]int(nil), pl.load...),
		cost:  append([]int(nil), pl.cost...),
		total: pl.total,
	}
	for v := range pl.order {
		out.order[v] = append([]int(nil), pl.order[v]...)
	}
	return out
}

// refresh recomputes load and cost of vehicle v and the plan total.
func (pl *plan) refresh(v int) {
	pl.total -= pl.cost[v]
	prev := pl.g.Start(v)
	load, cost := 0, 0
	for _, s := range pl.order[v] {
		cost += pl.g.Cost(prev, s, v)
		load += pl.g.Demand(s)
		prev = s
	}
	cost += pl.g.Cost(prev, pl.g.End(v), v)
	pl.load[v] = load
	pl.cost[v] = cost
	pl.total += cost
}

// at returns the slot at position i of route v, mapping -1 to the start
// slot and len(route) to the end slot.
func (pl *plan) at(v, i int) int {
	switch {
	case i < 0:
		return pl.g.Start(v)
	case i >= len(pl.order[v]):
		return pl.g.End(v)
	}
	return pl.order[v][i]
}

func (pl *plan) feasible() bool {
	for v := range pl.order {
		if pl.load[v] > pl.g.Capacity(v) {
			return false
		}
	}
	return true
}

func (pl *plan) assignment() *Assignment {
	a := &Assignment{offsets: make([]int, 0, len(pl.order)+1), cost: pl.total}
	depot := pl.g.p.depot
	for _, route := range pl.order {
		a.offsets = append(a.offsets, len(a.visits))
		a.visits = append(a.visits, depot)
		for _, s := range route {
			a.visits = append(a.visits, pl.g.LocationOf(s))
		}
		a.visits = append(a.visits, depot)
	}
	a.offsets = append(a.offsets, len(a.visits))
	return a
}

// Assignment is a finished solution: every vehicle's location sequence from
// depot to depot, stored contiguously with per-vehicle offsets.
type Assignment struct {
	visits  []int
	offsets []int
	cost    int
}

func (a *Assignment) NumVehicles() int { return len(a.offsets) - 1 }

// Route returns the locations visited by vehicle v, depot endpoints included.
// The slice aliases the assignment and must not be modified.
func (a *Assignment) Route(v int) []int { return a.visits[a.offsets[v]:a.offsets[v+1]] }

// Used reports whether vehicle v serves at least one customer.
func (a *Assignment) Used(v int) bool { return len(a.Route(v)) > 2 }

// Cost is the total arc cost of all routes.
func (a *Assignment) Cost() int { return a.cost }
