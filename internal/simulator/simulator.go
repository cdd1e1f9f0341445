// Package simulator implements the spec §4.G driver: it partitions the
// simulated timeline into consecutive horizon windows, assembles and solves
// one MILP per horizon, threads the BITES shallow/deep storage state from
// horizon k into horizon k+1's initial condition, persists output in
// batches, and runs month-aggregated settlement once every horizon has
// solved. Grounded on the teacher's scheduler.go PeriodicTask/MinerScheduler
// cooperative-cancellation shape, adapted from a periodic timer loop to a
// strictly sequential one: horizon k+1 cannot start until k has produced its
// BITES carry-over (spec §5).
package simulator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/devskill-org/lec-sim/internal/extract"
	"github.com/devskill-org/lec-sim/internal/horizon"
	"github.com/devskill-org/lec-sim/internal/milp"
	"github.com/devskill-org/lec-sim/internal/pricing"
	"github.com/devskill-org/lec-sim/internal/settlement"
	"github.com/devskill-org/lec-sim/internal/solver"
	"github.com/devskill-org/lec-sim/internal/twin"
	"github.com/devskill-org/lec-sim/internal/types"
)

// Stopped is returned by Run when the context was cancelled between
// horizons (spec §5 "Cancellation & timeout").
type Stopped struct {
	AtHorizonStart time.Time
}

func (e *Stopped) Error() string {
	return fmt.Sprintf("simulator: stopped before horizon starting %s", e.AtHorizonStart.Format(time.RFC3339))
}

// InfeasibilityError is raised when the solver returns a non-optimal
// termination for a horizon; spec §6 "the core must treat any non-optimal
// termination as infeasible".
type InfeasibilityError struct {
	HorizonStart       time.Time
	Termination        solver.TerminationCondition
	ConstraintFamilies []string
}

func (e *InfeasibilityError) Error() string {
	return fmt.Sprintf("simulator: horizon starting %s is infeasible (%s), violated families=%v",
		e.HorizonStart.Format(time.RFC3339), e.Termination, e.ConstraintFamilies)
}

// Sink is the persistence surface the driver writes batches to; satisfied by
// *persistence.Store, and mockable in tests without a real database.
type Sink interface {
	SaveTrades(ctx context.Context, trades []types.Trade) error
	SaveLevels(ctx context.Context, levels []types.Level) error
	SaveExtraCosts(ctx context.Context, costs []types.ExtraCost) error
	DeleteJobData(ctx context.Context, jobID string) error
}

// Driver runs a full simulation: a sequence of horizons sharing one price
// model pair, persisted in batches, followed by settlement.
type Driver struct {
	Agents    []types.Agent
	Twins     map[string]*twin.DigitalTwin
	ElecPrice *pricing.ElectricityPriceModel
	HeatPrice *pricing.HeatPriceModel
	Params    horizon.Params
	Solver    solver.Solver
	Grid      extract.GridGUIDs
	Sink      Sink
	Logger    *log.Logger

	// BatchSize is the number of horizons accumulated before a persistence
	// call is made (spec §4.G "group windows into batches").
	BatchSize int

	mu         sync.RWMutex
	horizonsRun int
}

// NewDriver constructs a Driver with a default batch size of 1 (persist
// after every horizon) when batchSize <= 0.
func NewDriver(agents []types.Agent, twins map[string]*twin.DigitalTwin, elecPrice *pricing.ElectricityPriceModel,
	heatPrice *pricing.HeatPriceModel, params horizon.Params, sv solver.Solver, grid extract.GridGUIDs, sink Sink, logger *log.Logger, batchSize int) *Driver {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Driver{
		Agents: agents, Twins: twins, ElecPrice: elecPrice, HeatPrice: heatPrice,
		Params: params, Solver: sv, Grid: grid, Sink: sink, Logger: logger, BatchSize: batchSize,
	}
}

// HorizonsRun reports how many horizons have completed so far, safe to read
// concurrently with Run (e.g. from a status endpoint).
func (d *Driver) HorizonsRun() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.horizonsRun
}

// Run iterates numHorizons consecutive windows of horizonHours starting at
// start, solving and extracting each in turn, threading BITES storage
// carry-over between them, and batching persistence calls. It returns every
// trade produced (needed by the caller to run settlement afterwards) or an
// error (*Stopped on cooperative cancellation, *InfeasibilityError on a
// non-optimal solve).
func (d *Driver) Run(ctx context.Context, jobID string, start time.Time, horizonHours, numHorizons int) ([]types.Trade, error) {
	n := len(d.Agents)
	shallowEnergy0 := make([]float64, n)
	deepEnergy0 := make([]float64, n)

	var allTrades []types.Trade
	var batchTrades []types.Trade
	var batchLevels []types.Level

	flush := func() error {
		if len(batchTrades) == 0 && len(batchLevels) == 0 {
			return nil
		}
		if err := d.Sink.SaveTrades(ctx, batchTrades); err != nil {
			return err
		}
		if err := d.Sink.SaveLevels(ctx, batchLevels); err != nil {
			return err
		}
		batchTrades = nil
		batchLevels = nil
		return nil
	}

	for k := 0; k < numHorizons; k++ {
		horizonStart := start.Add(time.Duration(k*horizonHours) * time.Hour)

		select {
		case <-ctx.Done():
			return allTrades, &Stopped{AtHorizonStart: horizonStart}
		default:
		}

		hz, err := horizon.Assemble(d.Agents, d.Twins, horizonStart, horizonHours, d.ElecPrice, d.HeatPrice, d.Params)
		if err != nil {
			return allTrades, fmt.Errorf("assemble horizon at %s: %w", horizonStart.Format(time.RFC3339), err)
		}
		hz.ShallowEnergy0 = shallowEnergy0
		hz.DeepEnergy0 = deepEnergy0

		model, vi, err := milp.Build(hz, d.Params)
		if err != nil {
			return allTrades, fmt.Errorf("build MILP at %s: %w", horizonStart.Format(time.RFC3339), err)
		}

		sol, err := d.Solver.Solve(model)
		if err != nil {
			return allTrades, fmt.Errorf("solve horizon at %s: %w", horizonStart.Format(time.RFC3339), err)
		}
		if sol.Termination != solver.Optimal {
			families := solver.ConstraintFamiliesViolated(model, sol.Values)
			return allTrades, &InfeasibilityError{HorizonStart: horizonStart, Termination: sol.Termination, ConstraintFamilies: families}
		}

		res := extract.Extract(hz, vi, sol.Values, jobID, d.Grid, d.ElecPrice, d.HeatPrice)
		allTrades = append(allTrades, res.Trades...)
		batchTrades = append(batchTrades, res.Trades...)
		batchLevels = append(batchLevels, res.Levels...)

		for i := range d.Agents {
			lastT := horizonHours - 1
			shallowEnergy0[i] = sol.Values[vi.EnergyShallow[i][lastT]]
			deepEnergy0[i] = sol.Values[vi.EnergyDeep[i][lastT]]
		}

		d.mu.Lock()
		d.horizonsRun = k + 1
		d.mu.Unlock()

		if (k+1)%d.BatchSize == 0 {
			if err := flush(); err != nil {
				return allTrades, fmt.Errorf("persist batch ending horizon %d: %w", k, err)
			}
			d.Logger.Printf("persisted batch through horizon %d/%d", k+1, numHorizons)
		}
	}

	if err := flush(); err != nil {
		return allTrades, fmt.Errorf("persist final batch: %w", err)
	}
	return allTrades, nil
}

// Settle runs spec §4.F month-aggregated reconciliation over every trade the
// run produced and persists the resulting ExtraCost rows.
func (d *Driver) Settle(ctx context.Context, jobID string, trades []types.Trade) error {
	costs, levels := settlement.Reconcile(jobID, trades, d.ElecPrice, d.HeatPrice)
	sortExtraCosts(costs)
	if err := d.Sink.SaveExtraCosts(ctx, costs); err != nil {
		return err
	}
	if len(levels) == 0 {
		return nil
	}
	return d.Sink.SaveLevels(ctx, levels)
}

func sortExtraCosts(costs []types.ExtraCost) {
	sort.Slice(costs, func(i, j int) bool {
		if !costs[i].PeriodMonth.Equal(costs[j].PeriodMonth) {
			return costs[i].PeriodMonth.Before(costs[j].PeriodMonth)
		}
		return costs[i].AgentGUID.String() < costs[j].AgentGUID.String()
	})
}
