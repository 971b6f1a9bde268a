// Package database provides the PostgreSQL pool used by the events sink.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/heimdall-sdk/internal/config"
	"github.com/rafaeljc/heimdall-sdk/internal/logger"
	"github.com/rafaeljc/heimdall-sdk/internal/observability"
)

// NewPostgresPool opens a pool sized by cfg and pings it once before returning.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.FromContext(ctx).Info("connected to postgres",
		slog.Int("max_conns", cfg.MaxConns),
		slog.Int("min_conns", cfg.MinConns),
	)
	return pool, nil
}

// RunPoolMonitor publishes pool statistics every interval until ctx is done.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stat := pool.Stat()
		observability.DBPoolConns.WithLabelValues("total").Set(float64(stat.TotalConns()))
		observability.DBPoolConns.WithLabelValues("idle").Set(float64(stat.IdleConns()))
		observability.DBPoolConns.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
		observability.DBPoolConns.WithLabelValues("max").Set(float64(stat.MaxConns()))
		observability.DBPoolAcquireCount.Set(float64(stat.AcquireCount()))
		observability.DBPoolAcquireDuration.Set(stat.AcquireDuration().Seconds())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
