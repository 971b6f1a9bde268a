// Package testsupport starts throwaway PostgreSQL and Redis containers for
// integration tests and reads Prometheus metrics for assertions.
package testsupport

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rafaeljc/heimdall-sdk/internal/config"
	"github.com/rafaeljc/heimdall-sdk/internal/database"
)

const (
	postgresImage = "postgres:15-alpine"
	eventsTestDB  = "heimdall_events_test"
)

// PostgresContainer is a running event warehouse with its schema applied.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string
}

// Terminate closes the pool and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// StartPostgresContainer runs every *.sql file of migrationsDir, in name
// order, as an init script and opens a pool through database.NewPostgresPool.
func StartPostgresContainer(ctx context.Context, migrationsDir string) (*PostgresContainer, error) {
	scripts, err := migrationScripts(migrationsDir)
	if err != nil {
		return nil, err
	}

	// The server logs readiness twice: once for the init phase, once for real.
	ready := wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase(eventsTestDB),
		postgres.WithUsername("heimdall"),
		postgres.WithPassword("heimdall-test"),
		postgres.WithInitScripts(scripts...),
		testcontainers.WithWaitStrategy(ready),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to read connection string: %w", err), ctr.Terminate(ctx))
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:            dsn,
		MaxConns:       5,
		MinConns:       1,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open pool: %w", err), ctr.Terminate(ctx))
	}

	return &PostgresContainer{Container: ctr, DB: pool, ConnectionString: dsn}, nil
}

func migrationScripts(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	scripts, err := filepath.Glob(filepath.Join(abs, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", abs)
	}
	slices.Sort(scripts)
	return scripts, nil
}
