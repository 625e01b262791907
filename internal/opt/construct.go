package opt

import (
	"context"
	"math/rand"
	"sort"
	"time"
)

// cheapestArcSeed extends each vehicle in turn by the cheapest feasible arc
// from its current tail until nothing fits, then moves to the next vehicle.
// It returns the number of customers left unassigned.
func cheapestArcSeed(g *Graph) (*plan, int) {
	pl := newPlan(g)
	used := make([]bool, g.NumCustomers())
	assigned := 0
	for v := 0; v < g.NumVehicles() && assigned < g.NumCustomers(); v++ {
		tail, load := g.Start(v), 0
		for {
			best, bestCost := -1, 0
			for s := 0; s < g.NumCustomers(); s++ {
				if used[s] || load+g.Demand(s) > g.Capacity(v) {
					continue
				}
				if c := g.Cost(tail, s, v); best < 0 || c < bestCost {
					best, bestCost = s, c
				}
			}
			if best < 0 {
				break
			}
			pl.order[v] = append(pl.order[v], best)
			used[best] = true
			load += g.Demand(best)
			tail = best
			assigned++
		}
		pl.refresh(v)
	}
	return pl, g.NumCustomers() - assigned
}

// packFit assigns customers in order to the first vehicle with room, or with
// bestFit to the one with the least room left. It returns false when some
// customer fits nowhere.
func packFit(g *Graph, customers, vehicles []int, bestFit bool) ([][]int, bool) {
	bins := make([][]int, g.NumVehicles())
	free := make([]int, g.NumVehicles())
	for v := range free {
		free[v] = g.Capacity(v)
	}
	for _, s := range customers {
		d := g.Demand(s)
		pick := -1
		for _, v := range vehicles {
			if free[v] < d {
				continue
			}
			if pick < 0 {
				pick = v
				if !bestFit {
					break
				}
			} else if free[v] < free[pick] {
				pick = v
			}
		}
		if pick < 0 {
			return nil, false
		}
		bins[pick] = append(bins[pick], s)
		free[pick] -= d
	}
	return bins, true
}

// sequenceBins orders every bin by cheapest arc from the depot.
func sequenceBins(g *Graph, bins [][]int) *plan {
	pl := newPlan(g)
	for v, bin := range bins {
		left := append([]int(nil), bin...)
		tail := g.Start(v)
		for len(left) > 0 {
			bi := 0
			for i := 1; i < len(left); i++ {
				if g.Cost(tail, left[i], v) < g.Cost(tail, left[bi], v) {
					bi = i
				}
			}
			tail = left[bi]
			pl.order[v] = append(pl.order[v], tail)
			left = append(left[:bi], left[bi+1:]...)
		}
		pl.refresh(v)
	}
	return pl
}

// construct builds the first feasible plan. When the greedy seed strands
// customers it falls back to best-fit decreasing packing and then to
// randomized first-fit restarts until the deadline.
func construct(ctx context.Context, g *Graph, deadline time.Time, rng *rand.Rand) (*plan, bool, error) {
	pl, left := cheapestArcSeed(g)
	if left == 0 {
		return pl, false, nil
	}

	customers := make([]int, g.NumCustomers())
	for i := range customers {
		customers[i] = i
	}
	vehicles := make([]int, g.NumVehicles())
	for i := range vehicles {
		vehicles[i] = i
	}
	sort.SliceStable(customers, func(a, b int) bool { return g.Demand(customers[a]) > g.Demand(customers[b]) })
	if bins, ok := packFit(g, customers, vehicles, true); ok {
		return sequenceBins(g, bins), true, nil
	}

	for time.Now().Before(deadline) && ctx.Err() == nil {
		rng.Shuffle(len(customers), func(i, j int) { customers[i], customers[j] = customers[j], customers[i] })
		rng.Shuffle(len(vehicles), func(i, j int) { vehicles[i], vehicles[j] = vehicles[j], vehicles[i] })
		if bins, ok := packFit(g, customers, vehicles, rng.Intn(2) == 0); ok {
			return sequenceBins(g, bins), true, nil
		}
	}
	return nil, true, &NoSolutionFoundError{Unassigned: left}
}
