// Command lec-job runs one Local Energy Community simulation job end to
// end: load configuration, create the job row, run every horizon, persist
// trades/levels, run settlement, and record success or failure on the job
// row. Grounded on the teacher's main.go (flag.String/Bool, -help usage
// block, signal-driven graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devskill-org/lec-sim/internal/config"
	"github.com/devskill-org/lec-sim/internal/extract"
	"github.com/devskill-org/lec-sim/internal/persistence"
	"github.com/devskill-org/lec-sim/internal/pricing"
	"github.com/devskill-org/lec-sim/internal/simulator"
	"github.com/devskill-org/lec-sim/internal/solver"
	"github.com/google/uuid"
)

func main() {
	var (
		configID = flag.String("config-id", "", "Path to the job's JSON configuration file (required)")
		help     = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}
	if *configID == "" {
		fmt.Fprintln(os.Stderr, "lec-job: -config-id is required")
		showHelp()
		os.Exit(2)
	}

	logger := log.New(os.Stdout, "[lec-job] ", log.LstdFlags)

	exitCode := run(*configID, logger)
	os.Exit(exitCode)
}

func showHelp() {
	fmt.Println(`lec-job - run one Local Energy Community simulation job

Usage:
  lec-job -config-id <path-to-config.json>

Flags:
  -config-id string   Path to the job's JSON configuration file (required)
  -help                Show this help message

Exit codes:
  0   job completed successfully
  1   internal error (config, persistence, solver plumbing)
  2   usage error
  3   a horizon was infeasible`)
}

// run executes one job and returns the process exit code, distinguishing
// infeasibility (exit 3) from internal errors (exit 1) per spec §6's "Job
// CLI" requirement.
func run(configPath string, logger *log.Logger) int {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Printf("failed to load configuration: %v", err)
		return 1
	}

	store, err := persistence.Open(cfg.PostgresConnString)
	if err != nil {
		logger.Printf("failed to connect to database: %v", err)
		return 1
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Printf("shutdown signal received, stopping after the current horizon...")
		cancel()
	}()

	jobID, err := store.CreateJob(ctx, configPath)
	if err != nil {
		logger.Printf("failed to create job row: %v", err)
		return 1
	}
	logger.Printf("created job %s", jobID)

	agents, err := cfg.ToAgents()
	if err != nil {
		finishWithFailure(ctx, store, jobID, err, logger)
		return 1
	}
	start := cfg.Simulation.StartDate
	if start.IsZero() {
		start = time.Now().UTC().Truncate(24 * time.Hour)
	}
	totalHours := cfg.Simulation.Days * 24
	numHorizons := totalHours / cfg.Simulation.HorizonHours

	twins, err := cfg.BuildMockTwins(start, totalHours)
	if err != nil {
		finishWithFailure(ctx, store, jobID, err, logger)
		return 1
	}

	elecPrice := pricing.NewElectricityPriceModel(
		cfg.AreaInfo.ElectricityTransmissionFee, cfg.AreaInfo.ElectricityTax, cfg.AreaInfo.ElectricityWholesaleOffset,
		cfg.AreaInfo.ElectricityEffectFeePerKW, cfg.AreaInfo.ElectricityInternalTax, cfg.AreaInfo.ElectricityInternalTransmissionFee,
	)
	heatPrice := pricing.NewHeatPriceModel(cfg.AreaInfo.HeatWholesalePriceFraction, cfg.AreaInfo.HeatEffectFeePerKWDay)

	grid := extract.GridGUIDs{Electricity: uuid.New(), Heat: uuid.New()}
	driver := simulator.NewDriver(agents, twins, elecPrice, heatPrice, cfg.AreaInfo.ToParams(),
		solver.NewReferenceSolver(), grid, store, logger, cfg.Simulation.BatchSize)

	trades, err := driver.Run(ctx, jobID, start, cfg.Simulation.HorizonHours, numHorizons)
	if err != nil {
		return handleRunError(ctx, store, jobID, err, logger)
	}

	if err := driver.Settle(ctx, jobID, trades); err != nil {
		finishWithFailure(ctx, store, jobID, err, logger)
		return 1
	}

	if err := store.FinishJob(ctx, jobID, ""); err != nil {
		logger.Printf("failed to record job completion: %v", err)
		return 1
	}
	logger.Printf("job %s completed: %d horizons, %d trades", jobID, driver.HorizonsRun(), len(trades))
	return 0
}

func handleRunError(ctx context.Context, store *persistence.Store, jobID string, err error, logger *log.Logger) int {
	finishWithFailure(ctx, store, jobID, err, logger)
	if _, ok := err.(*simulator.InfeasibilityError); ok {
		return 3
	}
	if _, ok := err.(*simulator.Stopped); ok {
		if delErr := store.DeleteJobData(ctx, jobID); delErr != nil {
			logger.Printf("failed to delete partial data for stopped job %s: %v", jobID, delErr)
		}
	}
	return 1
}

func finishWithFailure(ctx context.Context, store *persistence.Store, jobID string, err error, logger *log.Logger) {
	logger.Printf("job %s failed: %v", jobID, err)
	if finishErr := store.FinishJob(ctx, jobID, err.Error()); finishErr != nil {
		logger.Printf("failed to record job failure: %v", finishErr)
	}
}
