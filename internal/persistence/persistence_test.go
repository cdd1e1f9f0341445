package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/lec-sim/internal/types"
)

// TestStore_SaveAndDeleteTrades exercises the full save/delete cycle against
// a real Postgres instance. Skipped unless TEST_POSTGRES_CONN is set, the
// same gating scheduler/mpc_persistence_test.go uses for its database tests.
func TestStore_SaveAndDeleteTrades(t *testing.T) {
	connString := os.Getenv("TEST_POSTGRES_CONN")
	if connString == "" {
		t.Skip("Skipping test: TEST_POSTGRES_CONN not set")
	}

	store, err := Open(connString)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	jobID := uuid.New().String()
	if err := store.DeleteJobData(ctx, jobID); err != nil {
		t.Fatalf("DeleteJobData (pre-clean): %v", err)
	}

	trades := []types.Trade{
		{
			ID: uuid.New(), JobID: jobID, Period: time.Now().UTC(), AgentGUID: uuid.New(),
			Action: types.Buy, Resource: types.Electricity,
			QuantityPostLoss: 10, QuantityPreLoss: 10, Price: 1.2, Market: types.Local,
		},
	}
	if err := store.SaveTrades(ctx, trades); err != nil {
		t.Fatalf("SaveTrades: %v", err)
	}
	// Re-saving the same IDs must not fail (ON CONFLICT DO NOTHING).
	if err := store.SaveTrades(ctx, trades); err != nil {
		t.Fatalf("SaveTrades (idempotent re-save): %v", err)
	}

	if err := store.DeleteJobData(ctx, jobID); err != nil {
		t.Fatalf("DeleteJobData: %v", err)
	}
}

func TestPersistenceError_UnwrapsUnderlyingError(t *testing.T) {
	inner := &PersistenceError{Op: "test", Err: context.DeadlineExceeded}
	if inner.Unwrap() != context.DeadlineExceeded {
		t.Fatalf("expected Unwrap to return the wrapped error")
	}
	if inner.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}
