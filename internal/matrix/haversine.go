package matrix

import (
	"context"
	"math"

	"vrpsolver/internal/metrics"
)

// Haversine computes great-circle matrices offline. Durations assume a
// constant speed.
type Haversine struct {
	SpeedKph float64
}

func (h Haversine) Table(ctx context.Context, coords []Coordinate) (Matrix, error) {
	if len(coords) == 0 {
		return Matrix{}, &ProviderError{Provider: "haversine", Reason: "no coordinates"}
	}
	if err := ctx.Err(); err != nil {
		return Matrix{}, &ProviderError{Provider: "haversine", Reason: "canceled", Err: err}
	}
	speed := h.SpeedKph
	if speed <= 0 {
		speed = 50
	}
	mps := speed / 3.6
	n := len(coords)
	m := Matrix{Distances: make([][]float64, n), Durations: make([][]float64, n)}
	for i, a := range coords {
		m.Distances[i] = make([]float64, n)
		m.Durations[i] = make([]float64, n)
		for j, b := range coords {
			if i == j {
				continue
			}
			d := haversineMeters(a.Lat, a.Lon, b.Lat, b.Lon)
			m.Distances[i][j] = d
			m.Durations[i][j] = d / mps
		}
	}
	metrics.MatrixRequests.WithLabelValues("haversine", "ok").Inc()
	return m, nil
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
