// Package dbtest opens an isolated Postgres schema for repository tests.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fleetdesk/internal/platform/db"
)

// DSNEnv names the variable holding the Postgres DSN used by repository tests.
const DSNEnv = "FLEETDESK_TEST_PG_DSN"

// Open returns a pool pinned to a fresh schema with the migrations applied. The test is
// skipped when DSNEnv is unset, and the schema is dropped on cleanup.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}
	ctx := context.Background()

	admin, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 2})
	if err != nil {
		t.Fatalf("dbtest: connect: %v", err)
	}
	schema := "fleetdesk_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("dbtest: create schema: %v", err)
	}

	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 4, SearchPath: schema})
	if err != nil {
		t.Fatalf("dbtest: connect to schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		admin.Close()
	})

	migration, err := os.ReadFile(filepath.Join(migrationsDir(), "000001_authz.up.sql"))
	if err != nil {
		t.Fatalf("dbtest: read migration: %v", err)
	}
	// Exec without arguments runs over the simple protocol, so the whole file applies at once.
	if _, err := pool.Exec(ctx, string(migration)); err != nil {
		t.Fatalf("dbtest: apply migration: %v", err)
	}
	return pool
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations")
}
