package simulator

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/lec-sim/internal/extract"
	"github.com/devskill-org/lec-sim/internal/horizon"
	"github.com/devskill-org/lec-sim/internal/milp"
	"github.com/devskill-org/lec-sim/internal/pricing"
	"github.com/devskill-org/lec-sim/internal/solver"
	"github.com/devskill-org/lec-sim/internal/twin"
	"github.com/devskill-org/lec-sim/internal/types"
)

// fakeSolver always reports an optimal all-zero solution, exercising the
// driver's orchestration (assembly, extraction, carry-over, batching)
// without depending on solver correctness, which internal/solver tests
// cover separately.
type fakeSolver struct {
	termination solver.TerminationCondition
}

func (f *fakeSolver) Solve(m *milp.Model) (*solver.Solution, error) {
	return &solver.Solution{
		Values:      make([]float64, len(m.Vars)),
		Termination: f.termination,
	}, nil
}

// fakeSink records every call instead of touching a database.
type fakeSink struct {
	trades    []types.Trade
	levels    []types.Level
	costs     []types.ExtraCost
	deletions []string
}

func (s *fakeSink) SaveTrades(ctx context.Context, trades []types.Trade) error {
	s.trades = append(s.trades, trades...)
	return nil
}
func (s *fakeSink) SaveLevels(ctx context.Context, levels []types.Level) error {
	s.levels = append(s.levels, levels...)
	return nil
}
func (s *fakeSink) SaveExtraCosts(ctx context.Context, costs []types.ExtraCost) error {
	s.costs = append(s.costs, costs...)
	return nil
}
func (s *fakeSink) DeleteJobData(ctx context.Context, jobID string) error {
	s.deletions = append(s.deletions, jobID)
	return nil
}

func testDriver(t *testing.T, sv solver.Solver, sink *fakeSink) *Driver {
	t.Helper()
	agent := types.Agent{GUID: uuid.New(), Name: "block1", Type: types.BlockAgentType, AtempM2: 100}
	twins := map[string]*twin.DigitalTwin{agent.GUID.String(): twin.NewDigitalTwin(100, false)}
	elecPrice := pricing.NewElectricityPriceModel(0.1, 0.2, 0.05, 30, 0.05, 0.05)
	heatPrice := pricing.NewHeatPriceModel(0.8, 10)
	params := horizon.Params{SummerMonths: horizon.DefaultSummerMonths(), StorageEndChargeLevel: 0.5}
	grid := extract.GridGUIDs{Electricity: uuid.New(), Heat: uuid.New()}
	logger := log.New(os.Stdout, "[test] ", 0)

	return NewDriver([]types.Agent{agent}, twins, elecPrice, heatPrice, params, sv, grid, sink, logger, 2)
}

func TestDriver_RunCompletesAllHorizonsAndPersistsLevels(t *testing.T) {
	sink := &fakeSink{}
	d := testDriver(t, &fakeSolver{termination: solver.Optimal}, sink)

	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	trades, err := d.Run(context.Background(), "job-1", start, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.HorizonsRun() != 3 {
		t.Fatalf("expected 3 horizons run, got %d", d.HorizonsRun())
	}
	_ = trades // all-zero solution means no trades cross the epsilon threshold
	if len(sink.levels) == 0 {
		t.Fatalf("expected metadata levels to have been persisted")
	}
}

func TestDriver_RunStopsOnCancelledContext(t *testing.T) {
	sink := &fakeSink{}
	d := testDriver(t, &fakeSolver{termination: solver.Optimal}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, "job-1", time.Now().UTC(), 2, 5)
	if err == nil {
		t.Fatal("expected an error when the context is already cancelled")
	}
	if _, ok := err.(*Stopped); !ok {
		t.Fatalf("expected *Stopped, got %T: %v", err, err)
	}
	if d.HorizonsRun() != 0 {
		t.Fatalf("expected no horizons to run, got %d", d.HorizonsRun())
	}
}

func TestDriver_RunReturnsInfeasibilityError(t *testing.T) {
	sink := &fakeSink{}
	d := testDriver(t, &fakeSolver{termination: solver.Infeasible}, sink)

	_, err := d.Run(context.Background(), "job-1", time.Now().UTC(), 2, 1)
	infErr, ok := err.(*InfeasibilityError)
	if !ok {
		t.Fatalf("expected *InfeasibilityError, got %T: %v", err, err)
	}
	if infErr.Termination != solver.Infeasible {
		t.Fatalf("expected Infeasible termination recorded, got %v", infErr.Termination)
	}
}

func TestDriver_Settle_PersistsExtraCosts(t *testing.T) {
	sink := &fakeSink{}
	d := testDriver(t, &fakeSolver{termination: solver.Optimal}, sink)

	period := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	d.ElecPrice.SetNordpoolPrice(period, 0.5)
	d.ElecPrice.RecordExternalSell(period, 100, uuid.Nil)

	trades := []types.Trade{
		{ID: uuid.New(), JobID: "job-1", Period: period, AgentGUID: uuid.New(), Action: types.Buy,
			Resource: types.Electricity, QuantityPreLoss: 100, QuantityPostLoss: 100, Price: 0.3, Market: types.Local},
	}
	if err := d.Settle(context.Background(), "job-1", trades); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(sink.costs) == 0 {
		t.Fatalf("expected at least one ExtraCost to be persisted")
	}
}
