package opt

// Problem is a validated CVRP instance. It is read-only once built.
type Problem struct {
	cost       [][]int
	demands    []int
	capacities []int
	depot      int
}

// ProblemOption customizes NewProblem.
type ProblemOption func(*Problem)

// WithDepot sets the depot location. The default is 0.
func WithDepot(loc int) ProblemOption {
	return func(p *Problem) { p.depot = loc }
}

// NewProblem validates the inputs and returns a Problem over len(cost)
// locations and len(capacities) vehicles. The slices are copied.
func NewProblem(cost [][]int, demands, capacities []int, opts ...ProblemOption) (*Problem, error) {
	p := &Problem{}
	for _, o := range opts {
		o(p)
	}
	n := len(cost)
	if n == 0 {
		return nil, invalid("cost_matrix", "empty location set")
	}
	for i, row := range cost {
		if len(row) != n {
			return nil, invalid("cost_matrix", "row %d has %d columns, want %d", i, len(row), n)
		}
		for j, c := range row {
			if c < 0 {
				return nil, invalid("cost_matrix", "negative cost %d at [%d][%d]", c, i, j)
			}
		}
	}
	if len(demands) != n {
		return nil, invalid("demands", "got %d entries, want %d", len(demands), n)
	}
	for i, d := range demands {
		if d < 0 {
			return nil, invalid("demands", "negative demand %d at location %d", d, i)
		}
	}
	if len(capacities) == 0 {
		return nil, invalid("vehicle_capacities", "at least one vehicle is required")
	}
	for v, c := range capacities {
		if c <= 0 {
			return nil, invalid("vehicle_capacities", "vehicle %d has non-positive capacity %d", v, c)
		}
	}
	if p.depot < 0 || p.depot >= n {
		return nil, invalid("depot", "index %d out of range [0,%d)", p.depot, n)
	}
	if demands[p.depot] != 0 {
		return nil, invalid("demands", "depot demand must be 0, got %d", demands[p.depot])
	}

	p.cost = make([][]int, n)
	for i := range cost {
		p.cost[i] = append([]int(nil), cost[i]...)
	}
	p.demands = append([]int(nil), demands...)
	p.capacities = append([]int(nil), capacities...)
	return p, nil
}

func (p *Problem) NumLocations() int { return len(p.cost) }
func (p *Problem) NumVehicles() int  { return len(p.capacities) }
func (p *Problem) Depot() int        { return p.depot }

// Cost returns the arc cost between two locations.
func (p *Problem) Cost(from, to int) int { return p.cost[from][to] }

func (p *Problem) Demand(loc int) int        { return p.demands[loc] }
func (p *Problem) Capacity(vehicle int) int { return p.capacities[vehicle] }

// TotalDemand sums the demand of every non-depot location.
func (p *Problem) TotalDemand() int {
	total := 0
	for i, d := range p.demands {
		if i != p.depot {
			total += d
		}
	}
	return total
}

// checkFeasible reports structural capacity impossibilities.
func (p *Problem) checkFeasible() error {
	maxCap, totalCap := 0, 0
	for _, c := range p.capacities {
		totalCap += c
		if c > maxCap {
			maxCap = c
		}
	}
	for i, d := range p.demands {
		if i != p.depot && d > maxCap {
			return &InfeasibleError{Location: i, Reason: "demand exceeds the largest vehicle capacity"}
		}
	}
	if total := p.TotalDemand(); total > totalCap {
		return &InfeasibleError{Location: -1, Reason: "total demand exceeds total fleet capacity"}
	}
	return nil
}
