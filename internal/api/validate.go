package api

import (
	"fmt"
	"math"

	"vrpsolver/internal/model"
	"vrpsolver/internal/opt"
)

// Request shape limits.
const (
	maxLocations = 2000
	maxBatch     = 100
)

func validateAutoRequest(req *model.AutoRequest) error {
	return validateInstance(req.Coords, req.Demands, req.VehicleCapacities, req.Options)
}

func validateRouteWise(req *model.RouteWiseRequest) error {
	if len(req.RequestBody) == 0 {
		return &opt.ValidationError{Field: "requestBody", Reason: "must contain at least one route"}
	}
	if len(req.RequestBody) > maxBatch {
		return &opt.ValidationError{Field: "requestBody", Reason: fmt.Sprintf("at most %d routes per batch", maxBatch)}
	}
	seen := map[int]bool{}
	for i, rd := range req.RequestBody {
		if seen[rd.Route] {
			return &opt.ValidationError{Field: fmt.Sprintf("requestBody[%d].route", i), Reason: fmt.Sprintf("duplicate route %d", rd.Route)}
		}
		seen[rd.Route] = true
		if err := validateInstance(rd.Coords, rd.Demands, rd.VehicleCapacities, nil); err != nil {
			if ve, ok := err.(*opt.ValidationError); ok {
				ve.Field = fmt.Sprintf("requestBody[%d].%s", i, ve.Field)
			}
			return err
		}
	}
	return nil
}

func validateInstance(coords [][]float64, demands, capacities []int, o *model.SolveOptions) error {
	if len(coords) == 0 {
		return &opt.ValidationError{Field: "coords", Reason: "must contain at least the depot"}
	}
	if len(coords) > maxLocations {
		return &opt.ValidationError{Field: "coords", Reason: fmt.Sprintf("at most %d locations", maxLocations)}
	}
	if len(demands) != len(coords) {
		return &opt.ValidationError{Field: "demands", Reason: fmt.Sprintf("has %d entries, coords has %d", len(demands), len(coords))}
	}
	if len(capacities) == 0 {
		return &opt.ValidationError{Field: "vehicle_capacities", Reason: "must contain at least one vehicle"}
	}
	for i, c := range coords {
		if len(c) != 2 {
			return &opt.ValidationError{Field: fmt.Sprintf("coords[%d]", i), Reason: "must be a [lon, lat] pair"}
		}
		lon, lat := c[0], c[1]
		if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
			return &opt.ValidationError{Field: fmt.Sprintf("coords[%d]", i), Reason: fmt.Sprintf("longitude %v out of range", lon)}
		}
		if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
			return &opt.ValidationError{Field: fmt.Sprintf("coords[%d]", i), Reason: fmt.Sprintf("latitude %v out of range", lat)}
		}
	}
	if demands[0] != 0 {
		return &opt.ValidationError{Field: "demands[0]", Reason: "depot demand must be 0"}
	}
	for i, d := range demands {
		if d < 0 {
			return &opt.ValidationError{Field: fmt.Sprintf("demands[%d]", i), Reason: "must be >= 0"}
		}
	}
	for i, c := range capacities {
		if c <= 0 {
			return &opt.ValidationError{Field: fmt.Sprintf("vehicle_capacities[%d]", i), Reason: "must be > 0"}
		}
	}
	if o != nil && (o.TimeLimitMs < 0 || o.MaxIterations < 0 || o.StallRounds < 0 || o.Workers < 0) {
		return &opt.ValidationError{Field: "options", Reason: "limits must be >= 0"}
	}
	return nil
}
