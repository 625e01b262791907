package model

import (
	"time"

	"vrpsolver/internal/opt"
)

// AutoRequest is a single CVRP instance. Coords are [lon, lat] pairs and
// index 0 is the depot.
type AutoRequest struct {
	Coords            [][]float64   `json:"coords"`
	Demands           []int         `json:"demands"`
	VehicleCapacities []int         `json:"vehicle_capacities"`
	Options           *SolveOptions `json:"options,omitempty"`
}

// SolveOptions override the server's solver defaults for one request.
type SolveOptions struct {
	TimeLimitMs   int `json:"timeLimitMs,omitempty"`
	MaxIterations int `json:"maxIterations,omitempty"`
	StallRounds   int `json:"stallRounds,omitempty"`
	Workers       int `json:"workers,omitempty"`
}

type RouteData struct {
	Route             int         `json:"route"`
	Coords            [][]float64 `json:"coords"`
	Demands           []int       `json:"demands"`
	VehicleCapacities []int       `json:"vehicle_capacities"`
}

type RouteWiseRequest struct {
	RequestBody []RouteData `json:"requestBody"`
}

// RouteWiseItem carries either a result or the problem that prevented one.
type RouteWiseItem struct {
	Route  int         `json:"route"`
	Result *opt.Result `json:"result,omitempty"`
	Error  *Problem    `json:"error,omitempty"`
}

type RouteWiseResponse struct {
	Results []RouteWiseItem `json:"results"`
}

// Problem represents an RFC7807 problem details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Solution is the stored record of one solve.
type Solution struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Request   AutoRequest  `json:"request"`
	Objective string       `json:"objective,omitempty"`
	Result    *opt.Result  `json:"result,omitempty"`
	Trace     string       `json:"trace,omitempty"`
	Error     *Problem     `json:"error,omitempty"`
	Metrics   *opt.Metrics `json:"metrics,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// SolutionSummary is the list view of a Solution.
type SolutionSummary struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Objective     string    `json:"objective,omitempty"`
	Locations     int       `json:"locations"`
	Vehicles      int       `json:"vehicles"`
	TotalDistance *int      `json:"totalDistance,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (s Solution) Summary() SolutionSummary {
	out := SolutionSummary{
		ID:        s.ID,
		Status:    s.Status,
		Objective: s.Objective,
		Locations: len(s.Request.Coords),
		Vehicles:  len(s.Request.VehicleCapacities),
		CreatedAt: s.CreatedAt,
	}
	if s.Result != nil {
		d := s.Result.TotalDistance
		out.TotalDistance = &d
	}
	return out
}
