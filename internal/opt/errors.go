package opt

import (
	"fmt"
	"time"
)

// ValidationError reports the first problem invariant an input violates.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InfeasibleError means the problem is well formed but no assignment can
// satisfy the capacity constraints.
type InfeasibleError struct {
	Reason string
	// Location is the offending location when a single demand is the cause, else -1.
	Location int
}

func (e *InfeasibleError) Error() string {
	if e.Location >= 0 {
		return fmt.Sprintf("infeasible: location %d: %s", e.Location, e.Reason)
	}
	return "infeasible: " + e.Reason
}

// NoSolutionFoundError means the budget ran out before any feasible
// assignment was constructed. Callers may retry with a larger budget.
type NoSolutionFoundError struct {
	Budget     time.Duration
	Unassigned int
}

func (e *NoSolutionFoundError) Error() string {
	return fmt.Sprintf("no solution found within %v (%d customers unassigned)", e.Budget, e.Unassigned)
}
