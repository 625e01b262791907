package opt

// Graph maps search slots onto locations. Slots [0, C) are the C customer
// locations in ascending order, slot C+v is the start of vehicle v and
// slot C+V+v its end, so every vehicle owns distinct endpoints at the depot.
type Graph struct {
	p         *Problem
	slotLoc   []int
	locSlot   []int
	customers int
	vehicles  int
}

func NewGraph(p *Problem) *Graph {
	n, v := p.NumLocations(), p.NumVehicles()
	g := &Graph{p: p, customers: n - 1, vehicles: v}
	g.slotLoc = make([]int, 0, n-1+2*v)
	g.locSlot = make([]int, n)
	for loc := 0; loc < n; loc++ {
		if loc == p.depot {
			g.locSlot[loc] = -1
			continue
		}
		g.locSlot[loc] = len(g.slotLoc)
		g.slotLoc = append(g.slotLoc, loc)
	}
	for i := 0; i < 2*v; i++ {
		g.slotLoc = append(g.slotLoc, p.depot)
	}
	return g
}

func (g *Graph) NumSlots() int     { return len(g.slotLoc) }
func (g *Graph) NumCustomers() int { return g.customers }
func (g *Graph) NumVehicles() int  { return g.vehicles }

// LocationOf panics when slot is out of range.
func (g *Graph) LocationOf(slot int) int { return g.slotLoc[slot] }

// SlotOf returns the customer slot of loc, or -1 for the depot.
func (g *Graph) SlotOf(loc int) int { return g.locSlot[loc] }

func (g *Graph) Start(vehicle int) int { return g.customers + vehicle }
func (g *Graph) End(vehicle int) int   { return g.customers + g.vehicles + vehicle }

func (g *Graph) IsCustomer(slot int) bool { return slot < g.customers }

// Cost is the arc cost between two slots. Costs are homogeneous across the
// fleet so vehicle is unused; a per-vehicle matrix would be indexed here.
// A start slot straight to an end slot is an idle vehicle and costs nothing,
// whatever the depot diagonal holds.
func (g *Graph) Cost(from, to, vehicle int) int {
	if !g.IsCustomer(from) && from < g.customers+g.vehicles && to >= g.customers+g.vehicles {
		return 0
	}
	return g.p.cost[g.slotLoc[from]][g.slotLoc[to]]
}

func (g *Graph) Demand(slot int) int { return g.p.demands[g.slotLoc[slot]] }

func (g *Graph) Capacity(vehicle int) int { return g.p.capacities[vehicle] }
