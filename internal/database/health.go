package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// checkTimeout bounds a check when the caller's context has no deadline.
const checkTimeout = 2 * time.Second

// HealthChecker implements the observability.Checker interface for the
// PostgreSQL event sink.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker creates a health checker for the event sink pool.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// Name returns the component name reported by the readiness probe.
func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check pings the database and verifies that the events table exists, so an
// agent pointed at an unmigrated database is reported as not ready.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errors.New("database pool is nil")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, checkTimeout)
		defer cancel()
	}

	if err := h.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	var table *string
	if err := h.pool.QueryRow(ctx, `SELECT to_regclass('events')::text`).Scan(&table); err != nil {
		return fmt.Errorf("postgres schema check: %w", err)
	}
	if table == nil {
		return errors.New("events table is missing, apply the migrations")
	}
	return nil
}
