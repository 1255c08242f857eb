// Package testutil provides shared test infrastructure: a disposable
// Postgres container, a scripted mock LLM, a fake market data gateway, and
// SSE parsing helpers.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/finquery/finquery/db"
)

// postgresImage is the container image integration tests run against.
const postgresImage = "postgres:16-alpine"

// TestDB is a disposable Postgres instance with the schema migrated.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// StartPostgres launches a Postgres container, applies the embedded
// migrations, and returns a ready connection pool. Returns an error rather
// than calling t.Fatal so TestMain can share one container across a
// package's tests:
//
//	func TestMain(m *testing.M) {
//		var cleanup func()
//		sharedDB, cleanup, err = testutil.StartPostgres()
//		if err != nil {
//			log.Fatalf("starting test database: %v", err)
//		}
//		code := m.Run()
//		cleanup()
//		os.Exit(code)
//	}
func StartPostgres() (*TestDB, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("finquery_test"),
		postgres.WithUsername("finquery_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("reading connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	// The same migration path production uses.
	if err := db.Migrate(connStr, DiscardLogger()); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("migrating schema: %w", err)
	}

	tdb := &TestDB{Container: container, Pool: pool, ConnStr: connStr}
	cleanup := func() {
		pool.Close()
		_ = container.Terminate(context.Background())
	}
	return tdb, cleanup, nil
}

// SetupPostgres is the per-test variant of StartPostgres. The container is
// terminated via t.Cleanup.
func SetupPostgres(t *testing.T) *TestDB {
	t.Helper()

	tdb, cleanup, err := StartPostgres()
	if err != nil {
		t.Fatalf("setting up test database: %v", err)
	}
	t.Cleanup(cleanup)
	return tdb
}

// TruncatePrompts empties the system_prompts table for test isolation.
func TruncatePrompts(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	if _, err := pool.Exec(context.Background(), `TRUNCATE system_prompts`); err != nil {
		t.Fatalf("truncating system_prompts: %v", err)
	}
}
