package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vrpsolver/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu    sync.Mutex
	sols  map[string]model.Solution
	order []string // insertion order, oldest first
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{sols: map[string]model.Solution{}, now: time.Now}
}

func (m *Memory) CreateSolution(ctx context.Context, s model.Solution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sols[s.ID]; ok {
		return fmt.Errorf("solution %s already exists", s.ID)
	}
	now := m.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.sols[s.ID] = s
	m.order = append(m.order, s.ID)
	return nil
}

func (m *Memory) UpdateSolution(ctx context.Context, s model.Solution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.sols[s.ID]
	if !ok {
		return ErrNotFound
	}
	s.CreatedAt = old.CreatedAt
	s.UpdatedAt = m.now().UTC()
	m.sols[s.ID] = s
	return nil
}

func (m *Memory) GetSolution(ctx context.Context, id string) (model.Solution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sols[id]
	if !ok {
		return model.Solution{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSolutions(ctx context.Context, status, cursor string, limit int) ([]model.SolutionSummary, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := len(m.order) - 1
	if cursor != "" {
		for i := len(m.order) - 1; i >= 0; i-- {
			if m.order[i] == cursor {
				start = i - 1
				break
			}
		}
	}
	out := []model.SolutionSummary{}
	var next string
	for i := start; i >= 0 && len(out) < limit; i-- {
		s := m.sols[m.order[i]]
		if status == "" || s.Status == status {
			out = append(out, s.Summary())
		}
		next = s.ID
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
