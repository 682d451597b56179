package persistence

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	sqlassets "github.com/arcims/arcims-platform/database"
)

// mustTestPool provides a postgres-backed pool with the tenant registry DDL
// applied. TEST_DATABASE_URL short-circuits to an external database; without
// it a disposable container is started, so these tests need Docker and are
// skipped in short mode.
func mustTestPool(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	ctx := context.Background()

	url, ok := os.LookupEnv("TEST_DATABASE_URL")
	if !ok || url == "" {
		if testing.Short() {
			t.Skip("skipping postgres-backed test in short mode")
		}

		startCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
		defer cancel()

		pgContainer, err := postgres.Run(startCtx,
			"postgres:16-alpine",
			postgres.WithDatabase("onboarding"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
		)
		if err != nil {
			t.Fatalf("start postgres container: %v", err)
		}
		t.Cleanup(func() {
			_ = pgContainer.Terminate(context.Background())
		})

		url, err = pgContainer.ConnectionString(startCtx, "sslmode=disable")
		if err != nil {
			t.Fatalf("container connection string: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("create test pool: %v", err)
	}

	for _, raw := range strings.Split(sqlassets.TenantsSQL, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			t.Fatalf("apply tenants ddl: %v", err)
		}
	}

	cleanup := func() {
		_, _ = pool.Exec(ctx, "DELETE FROM "+TenantsTable)
		pool.Close()
	}

	return pool, cleanup
}
