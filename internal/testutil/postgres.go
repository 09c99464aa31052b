// Package testutil provides shared helpers for tests that need PostgreSQL.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-billing/internal/db"
)

// DatabaseURLEnv names the variable that enables PostgreSQL-backed tests
const DatabaseURLEnv = "WATERBILL_TEST_DATABASE_URL"

// NewPool connects to the test database, applies the schema and empties every
// table. The test is skipped when DatabaseURLEnv is not set.
func NewPool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(DatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set; skipping PostgreSQL test", DatabaseURLEnv)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE meter_readings, houses, water_unit_rates`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return pool
}
