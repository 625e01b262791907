package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"vrpsolver/internal/matrix"
	"vrpsolver/internal/model"
	"vrpsolver/internal/opt"
	"vrpsolver/internal/store"
)

// Problem types beyond about:blank.
const (
	ProblemValidation = "/problems/validation"
	ProblemInfeasible = "/problems/infeasible"
	ProblemNoSolution = "/problems/no-solution"
	ProblemProvider   = "/problems/matrix-provider"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemBody(w, model.Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func writeProblemBody(w http.ResponseWriter, p model.Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// problemFor maps a solve error onto its problem response.
func problemFor(err error, instance string) model.Problem {
	var (
		ve *opt.ValidationError
		ie *opt.InfeasibleError
		ns *opt.NoSolutionFoundError
		pe *matrix.ProviderError
	)
	p := model.Problem{Type: "about:blank", Detail: err.Error(), Instance: instance}
	switch {
	case errors.Is(err, context.Canceled):
		// a client gone mid-fetch surfaces wrapped in a ProviderError
		p.Title, p.Status = "Request canceled", http.StatusServiceUnavailable
	case errors.As(err, &ve):
		p.Type, p.Title, p.Status = ProblemValidation, "Invalid request", http.StatusBadRequest
	case errors.As(err, &ie):
		p.Type, p.Title, p.Status = ProblemInfeasible, "Problem is infeasible", http.StatusUnprocessableEntity
	case errors.As(err, &ns):
		p.Type, p.Title, p.Status = ProblemNoSolution, "No solution found", http.StatusUnprocessableEntity
	case errors.As(err, &pe):
		p.Type, p.Title, p.Status = ProblemProvider, "Cost matrix unavailable", http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound):
		p.Title, p.Status = "Not Found", http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		p.Title, p.Status = "Request canceled", http.StatusServiceUnavailable
	default:
		p.Title, p.Status = "Internal Server Error", http.StatusInternalServerError
	}
	return p
}
