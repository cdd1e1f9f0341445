// Package solver defines the pluggable LP/MILP interface spec §6 calls for
// and ships a reference Big-M simplex + branch-and-bound implementation.
// No third-party MILP/LP library appears anywhere in the retrieval pack (the
// teacher and its neighbours are a bitcoin-miner scheduler, an entsoe price
// client, a modbus/sigenergy inverter driver and a meteo client — none of
// them touch optimization), so this package is the one place in the repo
// that is deliberately built on the standard library: see DESIGN.md for the
// per-dependency justification this breaks from elsewhere in the module.
package solver

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/devskill-org/lec-sim/internal/milp"
)

// TerminationCondition mirrors pyomo's TerminationCondition enum closely
// enough for the core's "treat any non-optimal as infeasible" rule (spec §6
// Solver interface).
type TerminationCondition int

const (
	Optimal TerminationCondition = iota
	Infeasible
	Unbounded
	Error
)

func (t TerminationCondition) String() string {
	switch t {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	default:
		return "error"
	}
}

// Solution is the model-agnostic result of a solve: the primal value of
// every model.Var in declaration order, plus termination status.
type Solution struct {
	Values      []float64
	Objective   float64
	Termination TerminationCondition
}

// Solver is the pluggable interface spec §6 describes: "a model in, primal
// values and a TerminationCondition out".
type Solver interface {
	Solve(m *milp.Model) (*Solution, error)
}

// ErrNoFeasibleSolution is returned when branch-and-bound exhausts its node
// budget without finding an integer-feasible point, distinct from a
// genuinely infeasible LP relaxation.
var ErrNoFeasibleSolution = errors.New("solver: no integer-feasible solution found within node budget")

const (
	bigM          = 1e7
	pivotEpsilon  = 1e-9
	integerEps    = 1e-6
	maxBBNodes    = 2000
)

// ReferenceSolver is a dense-tableau Big-M simplex for the LP relaxation,
// wrapped in a depth-first branch-and-bound for the model's Binary
// variables. It is correct but not performance-tuned; production
// deployments are expected to swap in a real LP/MILP backend behind the
// Solver interface.
type ReferenceSolver struct{}

// NewReferenceSolver returns the stdlib-only reference implementation.
func NewReferenceSolver() *ReferenceSolver { return &ReferenceSolver{} }

// Solve implements Solver.
func (s *ReferenceSolver) Solve(m *milp.Model) (*Solution, error) {
	bounds := initialBounds(m)
	nodes := 0
	sol, err := branchAndBound(m, bounds, &nodes)
	if err != nil {
		return nil, err
	}
	return sol, nil
}

type varBounds struct {
	lb, ub []float64
}

func initialBounds(m *milp.Model) varBounds {
	lb := make([]float64, len(m.Vars))
	ub := make([]float64, len(m.Vars))
	for i, v := range m.Vars {
		lb[i] = v.LB
		ub[i] = v.UB
	}
	return varBounds{lb: lb, ub: ub}
}

// branchAndBound performs depth-first search over the binary variables,
// tightening bounds on each branch and re-solving the LP relaxation.
func branchAndBound(m *milp.Model, bounds varBounds, nodes *int) (*Solution, error) {
	*nodes++
	if *nodes > maxBBNodes {
		return nil, ErrNoFeasibleSolution
	}
	relaxed, err := solveLPRelaxation(m, bounds)
	if err != nil {
		return nil, err
	}
	if relaxed.Termination != Optimal {
		return relaxed, nil
	}

	branchVar := firstFractionalBinary(m, relaxed.Values)
	if branchVar == -1 {
		return relaxed, nil
	}

	// Branch low (fix to 0).
	loBounds := varBounds{lb: append([]float64(nil), bounds.lb...), ub: append([]float64(nil), bounds.ub...)}
	loBounds.ub[branchVar] = 0
	loSol, loErr := branchAndBound(m, loBounds, nodes)

	// Branch high (fix to 1).
	hiBounds := varBounds{lb: append([]float64(nil), bounds.lb...), ub: append([]float64(nil), bounds.ub...)}
	hiBounds.lb[branchVar] = 1
	hiSol, hiErr := branchAndBound(m, hiBounds, nodes)

	switch {
	case loErr != nil && hiErr != nil:
		return nil, ErrNoFeasibleSolution
	case loErr != nil:
		return hiSol, nil
	case hiErr != nil:
		return loSol, nil
	case loSol.Termination != Optimal && hiSol.Termination != Optimal:
		return loSol, nil
	case loSol.Termination != Optimal:
		return hiSol, nil
	case hiSol.Termination != Optimal:
		return loSol, nil
	case loSol.Objective <= hiSol.Objective:
		return loSol, nil
	default:
		return hiSol, nil
	}
}

func firstFractionalBinary(m *milp.Model, values []float64) int {
	for i, v := range m.Vars {
		if v.Kind != milp.Binary {
			continue
		}
		frac := values[i] - math.Floor(values[i])
		if frac > integerEps && frac < 1-integerEps {
			return i
		}
	}
	return -1
}

// solveLPRelaxation converts the model into Big-M standard form and runs the
// simplex method. Free variables (LB == -Inf) are split into positive and
// negative parts; finite upper bounds become extra <= rows.
func solveLPRelaxation(m *milp.Model, bounds varBounds) (*Solution, error) {
	enc := encode(m, bounds)
	tab, err := enc.simplex()
	if err != nil {
		return nil, err
	}
	if tab.infeasible {
		return &Solution{Termination: Infeasible}, nil
	}
	if tab.unbounded {
		return &Solution{Termination: Unbounded}, nil
	}
	values := enc.decode(tab)
	return &Solution{Values: values, Objective: tab.objectiveValue(), Termination: Optimal}, nil
}

// encoding bridges milp.Model's named, bounded, possibly-free variables to
// the simplex's "every column is >= 0" standard form.
type encoding struct {
	m      *milp.Model
	bounds varBounds

	// column index in the tableau for each model variable; for free model
	// variables, posCol/negCol hold the split columns and col is unused.
	col    []int
	isFree []bool
	posCol []int
	negCol []int

	numCols int
	rows    []row
}

type row struct {
	coeffs map[int]float64
	sense  milp.Sense
	rhs    float64
}

func encode(m *milp.Model, bounds varBounds) *encoding {
	e := &encoding{m: m, bounds: bounds}
	e.col = make([]int, len(m.Vars))
	e.isFree = make([]bool, len(m.Vars))
	e.posCol = make([]int, len(m.Vars))
	e.negCol = make([]int, len(m.Vars))

	next := 0
	for i, v := range m.Vars {
		lb := bounds.lb[i]
		if math.IsInf(lb, -1) {
			e.isFree[i] = true
			e.posCol[i] = next
			next++
			e.negCol[i] = next
			next++
		} else {
			e.col[i] = next
			next++
		}
	}
	e.numCols = next

	shiftRow := func(coeffs map[int]float64, constantShift *float64) map[int]float64 {
		out := make(map[int]float64, len(coeffs))
		for vi, c := range coeffs {
			if e.isFree[vi] {
				out[e.posCol[vi]] += c
				out[e.negCol[vi]] -= c
				continue
			}
			lb := bounds.lb[vi]
			out[e.col[vi]] += c
			if lb != 0 {
				*constantShift += c * lb
			}
		}
		return out
	}

	for _, c := range m.Constraints {
		shift := 0.0
		coeffs := shiftRow(c.Coeffs, &shift)
		e.rows = append(e.rows, row{coeffs: coeffs, sense: c.Sense, rhs: c.RHS - shift})
	}

	for i, v := range m.Vars {
		ub := bounds.ub[i]
		if math.IsInf(ub, 1) {
			continue
		}
		lb := bounds.lb[i]
		if e.isFree[i] {
			coeffs := map[int]float64{e.posCol[i]: 1, e.negCol[i]: -1}
			e.rows = append(e.rows, row{coeffs: coeffs, sense: milp.LE, rhs: ub})
			continue
		}
		coeffs := map[int]float64{e.col[i]: 1}
		e.rows = append(e.rows, row{coeffs: coeffs, sense: milp.LE, rhs: ub - lb})
	}

	return e
}

func (e *encoding) objectiveCoeffs() map[int]float64 {
	obj := make(map[int]float64)
	for vi, c := range e.m.Objective {
		if e.isFree[vi] {
			obj[e.posCol[vi]] += c
			obj[e.negCol[vi]] -= c
			continue
		}
		obj[e.col[vi]] += c
	}
	return obj
}

func (e *encoding) decode(t *tableau) []float64 {
	values := make([]float64, len(e.m.Vars))
	for i := range e.m.Vars {
		lb := e.bounds.lb[i]
		if e.isFree[i] {
			values[i] = t.colValue(e.posCol[i]) - t.colValue(e.negCol[i])
		} else {
			values[i] = t.colValue(e.col[i]) + lb
		}
	}
	return values
}

// tableau is the dense Big-M simplex tableau: rows are constraints plus the
// objective row, columns are structural + slack/surplus/artificial.
type tableau struct {
	data       [][]float64
	basis      []int
	numStruct  int // number of structural (non-slack/artificial) columns
	numCols    int
	infeasible bool
	unbounded  bool
}

func (t *tableau) colValue(col int) float64 {
	for r, b := range t.basis {
		if b == col {
			return t.data[r][t.numCols]
		}
	}
	return 0
}

func (t *tableau) objectiveValue() float64 {
	return -t.data[len(t.data)-1][t.numCols]
}

// simplex builds the Big-M tableau from the encoding and runs the primal
// simplex method with Bland's rule to avoid cycling.
func (e *encoding) simplex() (*tableau, error) {
	numRows := len(e.rows)
	structCols := e.numCols

	// Count extra columns needed: one slack/surplus per <= and >= row, one
	// artificial per >= and == row, using each row's sense after a negative
	// right-hand side has been flipped.
	extra := 0
	artificialNeeded := 0
	for _, r := range e.rows {
		sense := r.sense
		if r.rhs < 0 {
			switch sense {
			case milp.LE:
				sense = milp.GE
			case milp.GE:
				sense = milp.LE
			}
		}
		switch sense {
		case milp.LE:
			extra++
		case milp.GE:
			extra++
			artificialNeeded++
		case milp.EQ:
			artificialNeeded++
		}
	}

	totalCols := structCols + extra + artificialNeeded
	data := make([][]float64, numRows+1)
	for i := range data {
		data[i] = make([]float64, totalCols+1)
	}
	basis := make([]int, numRows)

	slackCol := structCols
	artCol := structCols + extra

	obj := e.objectiveCoeffs()
	bigMCols := map[int]bool{}

	for ri, r := range e.rows {
		rhs := r.rhs
		rowSense := r.sense
		sign := 1.0
		if rhs < 0 {
			// Normalize to non-negative RHS by flipping the row and its sense.
			sign = -1.0
			rhs = -rhs
			switch rowSense {
			case milp.LE:
				rowSense = milp.GE
			case milp.GE:
				rowSense = milp.LE
			}
		}
		for vi, c := range r.coeffs {
			data[ri][vi] = sign * c
		}
		data[ri][totalCols] = rhs

		switch rowSense {
		case milp.LE:
			data[ri][slackCol] = 1
			basis[ri] = slackCol
			slackCol++
		case milp.GE:
			data[ri][slackCol] = -1
			slackCol++
			data[ri][artCol] = 1
			basis[ri] = artCol
			bigMCols[artCol] = true
			artCol++
		case milp.EQ:
			data[ri][artCol] = 1
			basis[ri] = artCol
			bigMCols[artCol] = true
			artCol++
		}
	}

	// Objective row: minimize => store as -cost so we can always look for
	// negative reduced costs meaning "improving" in a max-style tableau.
	for vi, c := range obj {
		data[numRows][vi] = c
	}
	for col := range bigMCols {
		data[numRows][col] = bigM
	}

	// Make the objective row consistent with the current (artificial) basis
	// by eliminating basic columns' cost entries.
	for ri, b := range basis {
		coeff := data[numRows][b]
		if coeff == 0 {
			continue
		}
		for c := 0; c <= totalCols; c++ {
			data[numRows][c] -= coeff * data[ri][c]
		}
	}

	t := &tableau{data: data, basis: basis, numStruct: structCols, numCols: totalCols}

	for iter := 0; iter < 20000; iter++ {
		// Bland's rule: choose the smallest-indexed column with negative cost.
		pivotCol := -1
		for c := 0; c < totalCols; c++ {
			if data[numRows][c] < -pivotEpsilon {
				pivotCol = c
				break
			}
		}
		if pivotCol == -1 {
			break
		}

		pivotRow := -1
		best := math.Inf(1)
		for r := 0; r < numRows; r++ {
			if data[r][pivotCol] <= pivotEpsilon {
				continue
			}
			ratio := data[r][totalCols] / data[r][pivotCol]
			if ratio < best-1e-12 {
				best = ratio
				pivotRow = r
			} else if ratio < best+1e-12 && pivotRow != -1 && basis[pivotRow] > basis[r] {
				pivotRow = r
			}
		}
		if pivotRow == -1 {
			t.unbounded = true
			return t, nil
		}

		pivot(data, pivotRow, pivotCol, numRows, totalCols)
		basis[pivotRow] = pivotCol
	}

	for ri, b := range basis {
		if bigMCols[b] && data[ri][totalCols] > 1e-6 {
			t.infeasible = true
			return t, nil
		}
	}

	return t, nil
}

func pivot(data [][]float64, pr, pc, numRows, totalCols int) {
	pivotVal := data[pr][pc]
	for c := 0; c <= totalCols; c++ {
		data[pr][c] /= pivotVal
	}
	for r := 0; r <= numRows; r++ {
		if r == pr {
			continue
		}
		factor := data[r][pc]
		if factor == 0 {
			continue
		}
		for c := 0; c <= totalCols; c++ {
			data[r][c] -= factor * data[pr][c]
		}
	}
}

// ConstraintFamiliesViolated inspects a non-optimal solve and reports the
// distinct constraint family names (as given to Model.AddConstraint, with
// any bracketed index suffix stripped, so "cap[0]" is reported as "cap")
// whose row is violated at the given primal point, for InfeasibilityError
// reporting (spec §4.D Infeasibility, §7).
func ConstraintFamiliesViolated(m *milp.Model, values []float64) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range m.Constraints {
		lhs := 0.0
		for vi, coeff := range c.Coeffs {
			if vi < len(values) {
				lhs += coeff * values[vi]
			}
		}
		violated := false
		switch c.Sense {
		case milp.LE:
			violated = lhs > c.RHS+1e-6
		case milp.GE:
			violated = lhs < c.RHS-1e-6
		case milp.EQ:
			violated = math.Abs(lhs-c.RHS) > 1e-6
		}
		family := c.Family
		if idx := strings.IndexByte(family, '['); idx >= 0 {
			family = family[:idx]
		}
		if violated && !seen[family] {
			seen[family] = true
			out = append(out, family)
		}
	}
	sort.Strings(out)
	return out
}
