// Package matrix acquires travel-cost matrices for a list of coordinates.
package matrix

import (
	"context"
	"fmt"
	"math"
)

// Coordinate is a WGS84 point in OSRM order.
type Coordinate struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Matrix holds the raw provider output. Either slice may be nil when the
// provider did not return that annotation.
type Matrix struct {
	Distances [][]float64 `json:"distances,omitempty"`
	Durations [][]float64 `json:"durations,omitempty"`
}

// Provider returns a matrix over coords, indexed like coords.
type Provider interface {
	Table(ctx context.Context, coords []Coordinate) (Matrix, error)
}

// ProviderError reports a failed or unusable matrix fetch.
type ProviderError struct {
	Provider string
	Status   int // HTTP status when known
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("matrix provider %s: %s", e.Provider, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Objective names the annotation a cost matrix was built from.
type Objective string

const (
	ObjectiveDistance Objective = "distance"
	ObjectiveDuration Objective = "duration"
)

// Costs picks the cost annotation, distance first, and truncates it to ints.
// Durations are used only when distances are absent and allowDuration is set.
func Costs(m Matrix, n int, allowDuration bool) ([][]int, Objective, error) {
	switch {
	case m.Distances != nil:
		c, err := truncate(m.Distances, n, "distances")
		return c, ObjectiveDistance, err
	case m.Durations != nil && allowDuration:
		c, err := truncate(m.Durations, n, "durations")
		return c, ObjectiveDuration, err
	case m.Durations != nil:
		return nil, "", &ProviderError{Provider: "matrix", Reason: "response has durations but no distances"}
	}
	return nil, "", &ProviderError{Provider: "matrix", Reason: "response has neither distances nor durations"}
}

func truncate(src [][]float64, n int, name string) ([][]int, error) {
	if len(src) != n {
		return nil, &ProviderError{Provider: "matrix", Reason: fmt.Sprintf("%s has %d rows, want %d", name, len(src), n)}
	}
	out := make([][]int, n)
	for i, row := range src {
		if len(row) != n {
			return nil, &ProviderError{Provider: "matrix", Reason: fmt.Sprintf("%s row %d has %d columns, want %d", name, i, len(row), n)}
		}
		out[i] = make([]int, n)
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return nil, &ProviderError{Provider: "matrix", Reason: fmt.Sprintf("%s[%d][%d] is not a usable cost: %v", name, i, j, v)}
			}
			out[i][j] = int(v)
		}
	}
	return out, nil
}
