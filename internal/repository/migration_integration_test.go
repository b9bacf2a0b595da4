//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/imagify/imagify/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ============================================================================
// Migration Integration Tests
// ============================================================================

func TestIntegrationMigration_ApplyAllTables(t *testing.T) {
	ctx, pool := testutil.NewPostgres(t)

	tables := []string{
		"users",
		"credit_entries",
		"transactions",
		"assets",
		"notifications",
	}

	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			exists, err := tableExists(ctx, pool, table)
			if err != nil {
				t.Fatalf("tableExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Table %q should exist after migrations", table)
			}
		})
	}
}

func TestIntegrationMigration_BalanceCheckConstraint(t *testing.T) {
	ctx, pool := testutil.NewPostgres(t)

	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, credit_balance)
		VALUES ('u1', 'n', 'a@example.com', 'h', -1)
	`)
	if err == nil {
		t.Error("Expected check constraint violation for negative balance")
	}
}

func TestIntegrationMigration_TransactionStatusConstraint(t *testing.T) {
	ctx, pool := testutil.NewPostgres(t)

	if _, err := pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash) VALUES ('u1', 'n', 'a@example.com', 'h')
	`); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, plan, credits_granted, amount_charged, currency, status)
		VALUES ('t1', 'u1', 'Basic', 100, 10, 'INR', 'refunded')
	`)
	if err == nil {
		t.Error("Expected check constraint violation for unknown status")
	}
}

func TestIntegrationMigration_Idempotency(t *testing.T) {
	ctx, pool := testutil.NewPostgres(t)

	// Up migrations use IF NOT EXISTS, so reapplying them must not fail.
	if err := testutil.ResetSchema(ctx, pool); err != nil {
		t.Fatalf("second reset should not fail: %v", err)
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`, tableName).Scan(&exists)
	return exists, err
}
