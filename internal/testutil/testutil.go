package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imagify/imagify/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// Migrations lists the schema files in apply order.
var Migrations = []string{
	"000001_users",
	"000002_credit_entries",
	"000003_transactions",
	"000004_assets",
	"000005_notifications",
}

// ResetSchema drops every table (reverse order) and reapplies all up migrations.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	for i := len(Migrations) - 1; i >= 0; i-- {
		if err := applyFile(ctx, pool, filepath.Join(root, "migrations", Migrations[i]+".down.sql")); err != nil {
			return err
		}
	}
	for _, name := range Migrations {
		if err := applyFile(ctx, pool, filepath.Join(root, "migrations", name+".up.sql")); err != nil {
			return err
		}
	}
	return nil
}

func applyFile(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", filepath.Base(path), err)
	}
	return nil
}

// NewPostgres connects to TEST_DATABASE_URL, takes the advisory lock and
// resets the schema. Cleanup releases the lock and closes the pool.
func NewPostgres(t testing.TB) (context.Context, *pgxpool.Pool) {
	t.Helper()
	dbURL := RequireEnv(t, "TEST_DATABASE_URL")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	t.Cleanup(func() {
		if err := unlock(); err != nil {
			t.Logf("unlock: %v", err)
		}
	})

	if err := ResetSchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return ctx, pool
}

// NewRedis connects to TEST_REDIS_URL and flushes the database.
func NewRedis(t testing.TB) (context.Context, *redis.Client) {
	t.Helper()
	redisURL := RequireEnv(t, "TEST_REDIS_URL")

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := FlushRedis(ctx, client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return ctx, client
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestUser creates a test user with the given starting balance.
func NewTestUser(t testing.TB, balance int64) *model.User {
	t.Helper()
	id := UniqueID("user")
	return &model.User{
		ID:            id,
		Name:          "Test User",
		Email:         id + "@example.com",
		PasswordHash:  "hash",
		CreditBalance: balance,
		CreatedAt:     time.Now().UTC(),
	}
}

// NewTestTransaction creates a pending transaction for the Advanced plan.
func NewTestTransaction(t testing.TB, userID string) *model.Transaction {
	t.Helper()
	now := time.Now().UTC()
	return &model.Transaction{
		ID:             UniqueID("tx"),
		UserID:         userID,
		Plan:           "Advanced",
		CreditsGranted: 500,
		AmountCharged:  decimal.NewFromInt(50),
		Currency:       "INR",
		Status:         model.TransactionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewTestAsset creates an asset record created at the given time.
func NewTestAsset(t testing.TB, ownerID string, createdAt time.Time) *model.Asset {
	t.Helper()
	id := UniqueID("asset")
	return &model.Asset{
		ID:        id,
		OwnerID:   ownerID,
		Prompt:    "a cat",
		BlobRef:   id + "_" + ownerID + ".png",
		CreatedAt: createdAt,
	}
}

var idSeq atomic.Int64

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idSeq.Add(1))
}
