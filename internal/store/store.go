package store

import (
	"context"
	"errors"

	"vrpsolver/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	CreateSolution(ctx context.Context, s model.Solution) error
	// UpdateSolution replaces the record with the same ID.
	UpdateSolution(ctx context.Context, s model.Solution) error
	GetSolution(ctx context.Context, id string) (model.Solution, error)
	// ListSolutions pages newest first. An empty nextCursor means no more pages.
	ListSolutions(ctx context.Context, status, cursor string, limit int) (items []model.SolutionSummary, nextCursor string, err error)
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
