package opt

import (
	"fmt"
	"strings"
)

type Stop struct {
	Node           int `json:"node"`
	LoadAfterVisit int `json:"load_after_visit"`
}

type Route struct {
	VehicleID int    `json:"vehicle_id"`
	Stops     []Stop `json:"stops"`
	Distance  int    `json:"distance"`
	Load      int    `json:"load"`
}

type Result struct {
	Routes        []Route `json:"routes"`
	TotalDistance int     `json:"total_distance"`
	TotalLoad     int     `json:"total_load"`
}

// Extract converts an assignment into per-vehicle routes. Vehicles that
// serve no customer are left out. Every stop, depot endpoints included,
// carries the cumulative load after the visit.
func Extract(p *Problem, a *Assignment) Result {
	res := Result{Routes: []Route{}}
	for v := 0; v < a.NumVehicles(); v++ {
		if !a.Used(v) {
			continue
		}
		r := walk(p, a, v)
		res.Routes = append(res.Routes, r)
		res.TotalDistance += r.Distance
		res.TotalLoad += r.Load
	}
	return res
}

func walk(p *Problem, a *Assignment, v int) Route {
	visits := a.Route(v)
	r := Route{VehicleID: v, Stops: make([]Stop, 0, len(visits))}
	for i, loc := range visits {
		r.Load += p.Demand(loc)
		r.Stops = append(r.Stops, Stop{Node: loc, LoadAfterVisit: r.Load})
		if i > 0 {
			r.Distance += p.Cost(visits[i-1], loc)
		}
	}
	return r
}

// Trace renders a human-readable summary of every vehicle, idle ones
// included.
func Trace(p *Problem, a *Assignment) string {
	var b strings.Builder
	totalDist, totalLoad := 0, 0
	for v := 0; v < a.NumVehicles(); v++ {
		r := walk(p, a, v)
		fmt.Fprintf(&b, "Route for vehicle %d:\n", v)
		for i, s := range r.Stops {
			if i == len(r.Stops)-1 {
				fmt.Fprintf(&b, " %d Load(%d)\n", s.Node, s.LoadAfterVisit)
			} else {
				fmt.Fprintf(&b, " %d Load(%d) -> ", s.Node, s.LoadAfterVisit)
			}
		}
		fmt.Fprintf(&b, "Distance of the route: %dm\n", r.Distance)
		fmt.Fprintf(&b, "Load of the route: %d\n\n", r.Load)
		totalDist += r.Distance
		totalLoad += r.Load
	}
	fmt.Fprintf(&b, "Total distance of all routes: %dm\n", totalDist)
	fmt.Fprintf(&b, "Total load of all routes: %d\n", totalLoad)
	return b.String()
}
