package opt

import "sync"

const maxRecorded = 256

// RecordedMetrics are the metrics of one finished solve.
type RecordedMetrics struct {
	ID string `json:"id"`
	Metrics
}

var (
	mu       sync.Mutex
	recent   []RecordedMetrics
	recordAt = map[string]int{}
)

// RecordMetrics keeps the search metrics of a finished solve. Only the most
// recent solves are retained.
func RecordMetrics(id string, m Metrics) {
	mu.Lock()
	defer mu.Unlock()
	if i, ok := recordAt[id]; ok {
		recent[i].Metrics = m
		return
	}
	if len(recent) == maxRecorded {
		delete(recordAt, recent[0].ID)
		recent = append(recent[:0], recent[1:]...)
		for i, r := range recent {
			recordAt[r.ID] = i
		}
	}
	recordAt[id] = len(recent)
	recent = append(recent, RecordedMetrics{ID: id, Metrics: m})
}

// GetMetrics returns the metrics recorded for id.
func GetMetrics(id string) (Metrics, bool) {
	mu.Lock()
	defer mu.Unlock()
	i, ok := recordAt[id]
	if !ok {
		return Metrics{}, false
	}
	return recent[i].Metrics, true
}

// RecentMetrics returns up to limit recorded metrics, newest first. A limit
// of 0 or less returns all of them.
func RecentMetrics(limit int) []RecordedMetrics {
	mu.Lock()
	defer mu.Unlock()
	n := len(recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]RecordedMetrics, 0, n)
	for i := len(recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, recent[i])
	}
	return out
}
