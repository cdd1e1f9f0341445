// Package persistence bulk-inserts simulation output (trades, metadata
// levels, extra-cost corrections) into Postgres inside a single transaction
// per batch, grounded on the teacher's scheduler/mpc_persistence.go
// (saveMPCDecisions: BeginTx, pre-clear by key, PrepareContext, loop of
// ExecContext, Commit).
package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/devskill-org/lec-sim/internal/types"
)

// PersistenceError wraps a database failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is a Postgres-backed sink for one job's simulation output.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using the lib/pq driver.
func Open(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job row in the "running" state and returns its ID.
func (s *Store) CreateJob(ctx context.Context, configID string) (string, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (config_id, status, start_time)
		VALUES ($1, 'running', now())
		RETURNING id
	`, configID).Scan(&jobID)
	if err != nil {
		return "", &PersistenceError{Op: "create job", Err: err}
	}
	return jobID, nil
}

// FinishJob marks a job as completed, or failed with failInfo set.
func (s *Store) FinishJob(ctx context.Context, jobID string, failInfo string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET end_time = now(), status = $2, fail_info = $3
		WHERE id = $1
	`, jobID, statusFor(failInfo), nullIfEmpty(failInfo))
	if err != nil {
		return &PersistenceError{Op: "finish job", Err: err}
	}
	return nil
}

func statusFor(failInfo string) string {
	if failInfo == "" {
		return "finished"
	}
	return "failed"
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// DeleteJobData removes every row previously persisted for a job, so a
// re-run of the same job never leaves stale rows behind.
func (s *Store) DeleteJobData(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin delete", Err: err}
	}
	defer tx.Rollback()

	for _, table := range []string{"trades", "levels", "extra_costs"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, table), jobID); err != nil {
			return &PersistenceError{Op: "delete from " + table, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit delete", Err: err}
	}
	return nil
}

// SaveTrades bulk-inserts Trade rows for one job inside a transaction.
func (s *Store) SaveTrades(ctx context.Context, trades []types.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin trades tx", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (
			id, job_id, period, agent_guid, action, resource,
			quantity_post_loss, quantity_pre_loss, price, by_external,
			market, loss_fraction, grid_fee_per_kwh, tax_per_kwh
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return &PersistenceError{Op: "prepare trades insert", Err: err}
	}
	defer stmt.Close()

	for _, t := range trades {
		price := interface{}(t.Price)
		if isNaN(t.Price) {
			price = nil
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.JobID, t.Period, t.AgentGUID, t.Action.String(), t.Resource.String(),
			t.QuantityPostLoss, t.QuantityPreLoss, price, t.ByExternal,
			t.Market.String(), t.LossFraction, t.GridFeePerKWh, t.TaxPerKWh,
		); err != nil {
			return &PersistenceError{Op: fmt.Sprintf("insert trade %s", t.ID), Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit trades tx", Err: err}
	}
	return nil
}

// SaveLevels bulk-inserts metadata Level rows for one job.
func (s *Store) SaveLevels(ctx context.Context, levels []types.Level) error {
	if len(levels) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin levels tx", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO levels (job_id, period, agent_guid, metadata_key, value)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return &PersistenceError{Op: "prepare levels insert", Err: err}
	}
	defer stmt.Close()

	for _, l := range levels {
		if _, err := stmt.ExecContext(ctx, l.JobID, l.Period, l.AgentGUID, l.MetadataKey.String(), l.Value); err != nil {
			return &PersistenceError{Op: "insert level", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit levels tx", Err: err}
	}
	return nil
}

// SaveExtraCosts bulk-inserts ExtraCost correction rows for one job.
func (s *Store) SaveExtraCosts(ctx context.Context, costs []types.ExtraCost) error {
	if len(costs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin extra costs tx", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO extra_costs (id, job_id, period_month, agent_guid, type, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return &PersistenceError{Op: "prepare extra costs insert", Err: err}
	}
	defer stmt.Close()

	for _, c := range costs {
		if _, err := stmt.ExecContext(ctx, c.ID, c.JobID, c.PeriodMonth, c.AgentGUID, c.Type.String(), c.Amount); err != nil {
			return &PersistenceError{Op: fmt.Sprintf("insert extra cost %s", c.ID), Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit extra costs tx", Err: err}
	}
	return nil
}

func isNaN(f float64) bool { return f != f }
