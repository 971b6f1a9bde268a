// Package syncer implements the background worker that keeps the agent's
// flag resolution fresh and drives time-based event flushing.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/rafaeljc/heimdall-sdk/internal/observability"
)

// Refresher re-resolves flags for the current context.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Ticker is anything with time-based work to re-evaluate, such as an events
// engine with interval flush policies.
type Ticker interface {
	Tick()
}

// Config holds the configuration for the Syncer service.
type Config struct {
	// RefreshInterval is the duration between flag refreshes.
	RefreshInterval time.Duration
	// TickInterval is how often tickers are driven. Defaults to one second.
	TickInterval time.Duration
}

// Service runs the refresh and tick loops.
type Service struct {
	logger    *slog.Logger
	config    Config
	refresher Refresher
	tickers   []Ticker
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg Config, refresher Refresher, tickers ...Ticker) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if refresher == nil {
		panic("syncer: refresher cannot be nil")
	}

	if cfg.RefreshInterval < time.Second {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	return &Service{
		logger:    logger,
		config:    cfg,
		refresher: refresher,
		tickers:   tickers,
	}
}

// Run starts the loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service",
		slog.String("refresh_interval", s.config.RefreshInterval.String()),
		slog.Int("tickers", len(s.tickers)),
	)

	refresh := time.NewTicker(s.config.RefreshInterval)
	defer refresh.Stop()

	tick := time.NewTicker(s.config.TickInterval)
	defer tick.Stop()

	// Run once immediately on startup
	s.refreshOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-refresh.C:
			s.refreshOnce(ctx)
		case <-tick.C:
			for _, t := range s.tickers {
				t.Tick()
			}
		}
	}
}

// refreshOnce performs a single refresh cycle. Failures are logged and
// retried on the next cycle.
func (s *Service) refreshOnce(ctx context.Context) {
	start := time.Now()

	if err := s.refresher.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.SyncerCyclesTotal.WithLabelValues("fail").Inc()
		s.logger.Error("refresh cycle failed", slog.String("error", err.Error()))
		return
	}

	observability.SyncerCyclesTotal.WithLabelValues("success").Inc()
	s.logger.Debug("refresh cycle completed", slog.Duration("duration", time.Since(start)))
}
