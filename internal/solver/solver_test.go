package solver

import (
	"math"
	"testing"

	"github.com/devskill-org/lec-sim/internal/milp"
)

// TestSolve_SimpleLP validates minimize x+y subject to x+y>=4, x<=3, y<=3,
// which has the unique optimum x+y=4 at objective value 4.
func TestSolve_SimpleLP(t *testing.T) {
	m := milp.NewModel()
	x := m.AddVar("x", 0, 3, milp.Continuous)
	y := m.AddVar("y", 0, 3, milp.Continuous)
	m.AddToObjective(x, 1)
	m.AddToObjective(y, 1)
	m.AddConstraint("min_total", milp.Eq{x: 1, y: 1}, milp.GE, 4)

	sol, err := NewReferenceSolver().Solve(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sol.Termination != Optimal {
		t.Fatalf("expected optimal, got %v", sol.Termination)
	}
	if math.Abs(sol.Objective-4) > 1e-4 {
		t.Fatalf("objective = %v, want 4", sol.Objective)
	}
}

// TestSolve_InfeasibleLP validates that a solver correctly reports
// infeasibility rather than silently returning a violated point, since the
// core treats any non-optimal termination as infeasible (spec §6).
func TestSolve_InfeasibleLP(t *testing.T) {
	m := milp.NewModel()
	x := m.AddVar("x", 0, 1, milp.Continuous)
	m.AddToObjective(x, 1)
	m.AddConstraint("too_big", milp.Eq{x: 1}, milp.GE, 5)

	sol, err := NewReferenceSolver().Solve(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sol.Termination != Infeasible {
		t.Fatalf("expected infeasible, got %v", sol.Termination)
	}
}

// TestSolve_BinaryExclusionPicksCheaperSide validates branch-and-bound: with
// a binary U forcing either buy or sell to zero, the solver should pick the
// cost-minimizing side.
func TestSolve_BinaryExclusionPicksCheaperSide(t *testing.T) {
	m := milp.NewModel()
	buy := m.AddVar("buy", 0, math.Inf(1), milp.Continuous)
	sell := m.AddVar("sell", 0, math.Inf(1), milp.Continuous)
	u := m.AddVar("u", 0, 1, milp.Binary)

	m.AddToObjective(buy, 1)  // buying costs 1/kWh
	m.AddToObjective(sell, -2) // selling earns 2/kWh

	m.AddConstraint("max_buy", milp.Eq{buy: 1, u: -10}, milp.LE, 0)
	m.AddConstraint("max_sell", milp.Eq{sell: 1, u: 10}, milp.LE, 10)
	m.AddConstraint("need_five", milp.Eq{buy: 1, sell: -1}, milp.EQ, -5)

	sol, err := NewReferenceSolver().Solve(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sol.Termination != Optimal {
		t.Fatalf("expected optimal, got %v", sol.Termination)
	}
	if sol.Values[sell] < 4.9 {
		t.Fatalf("expected sell ~= 5, got %v", sol.Values[sell])
	}
}

func TestConstraintFamiliesViolated_ReportsIndexStrippedNames(t *testing.T) {
	m := milp.NewModel()
	x := m.AddVar("x", 0, math.Inf(1), milp.Continuous)
	m.AddConstraint("cap[0]", milp.Eq{x: 1}, milp.LE, 10)

	violated := ConstraintFamiliesViolated(m, []float64{20})
	if len(violated) != 1 || violated[0] != "cap" {
		t.Fatalf("expected [cap], got %v", violated)
	}
}
