// Package main runs the Heimdall agent, a sidecar that resolves flags,
// reports applies and uploads events on behalf of local processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/heimdall-sdk/internal/agent"
	"github.com/rafaeljc/heimdall-sdk/internal/apply"
	"github.com/rafaeljc/heimdall-sdk/internal/cache"
	"github.com/rafaeljc/heimdall-sdk/internal/client"
	"github.com/rafaeljc/heimdall-sdk/internal/config"
	"github.com/rafaeljc/heimdall-sdk/internal/database"
	"github.com/rafaeljc/heimdall-sdk/internal/events"
	"github.com/rafaeljc/heimdall-sdk/internal/flags"
	"github.com/rafaeljc/heimdall-sdk/internal/logger"
	"github.com/rafaeljc/heimdall-sdk/internal/observability"
	"github.com/rafaeljc/heimdall-sdk/internal/remote"
	"github.com/rafaeljc/heimdall-sdk/internal/sink"
	"github.com/rafaeljc/heimdall-sdk/internal/syncer"
)

const poolMonitorInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("agent exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "optional YAML configuration file; environment variables take precedence")
	flag.Parse()

	// -------------------------------------------------------------------------
	// 1. Configuration & logging
	// -------------------------------------------------------------------------
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// -------------------------------------------------------------------------
	// 2. Backing services
	// -------------------------------------------------------------------------
	var checkers []observability.Checker

	var redisClient *redis.Client
	if cfg.RequiresRedis() {
		redisClient, err = cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		checkers = append(checkers, cache.NewHealthChecker(redisClient))
		go cache.RunPoolMonitor(ctx, redisClient, poolMonitorInterval)
	}

	var pool *pgxpool.Pool
	if cfg.RequiresDatabase() {
		pool, err = database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()
		checkers = append(checkers, database.NewHealthChecker(pool))
		go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)
	}

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	backend, err := remote.New(remote.Options{
		BaseURL:      cfg.Client.BaseURL,
		Region:       remote.Region(cfg.Client.Region),
		ClientSecret: cfg.Client.Secret,
		SDK:          remote.SDK{ID: cfg.Client.SDKID, Version: cfg.Client.SDKVersion},
		Timeout:      cfg.Client.RequestTimeout,
		Logger:       logger.Component(log, "remote"),
	})
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	var applyStore apply.Store = apply.NewFileStore(cfg.Storage.ApplyFile(), logger.Component(log, "apply"))
	if cfg.Storage.ApplyBackend == config.BackendRedis {
		applyStore = apply.NewRedisStore(redisClient, cfg.Storage.ApplyKey, logger.Component(log, "apply"))
	}

	var uploader events.Uploader = backend
	switch cfg.Events.Backend {
	case config.BackendPostgres:
		uploader = sink.NewPostgresUploader(pool, logger.Component(log, "sink"))
	case config.BackendRedis:
		uploader = sink.NewRedisStreamUploader(redisClient, cfg.Events.Stream, cfg.Events.StreamMaxLen)
	}

	var snapshots flags.SnapshotStore
	if cfg.Flags.PersistSnapshot {
		snapshots = flags.NewFileSnapshotStore(cfg.Storage.SnapshotFile(), logger.Component(log, "flags"))
	}

	sdk, err := client.New(ctx, client.Options{
		Logger:        log,
		FlagNames:     cfg.Flags.Names,
		Resolver:      backend,
		SnapshotStore: snapshots,
		ApplyClient:   backend,
		ApplyStore:    applyStore,
		ApplyConfig: apply.Config{
			SendTimeout:   cfg.Apply.SendTimeout,
			StoreTimeout:  cfg.Apply.StoreTimeout,
			SentCacheSize: cfg.Apply.SentCacheSize,
			SentCacheTTL:  cfg.Apply.SentCacheTTL,
		},
		Uploader:     uploader,
		EventsDir:    cfg.Storage.EventsDir(),
		EventsConfig: events.Config{UploadTimeout: cfg.Events.UploadTimeout},
		FlushPolicies: []events.FlushPolicy{
			events.NewSizePolicy(cfg.Events.BatchSize),
			events.NewIntervalPolicy(cfg.Events.FlushInterval),
		},
		VisitorIDFile: cfg.Storage.VisitorIDFile(),
	})
	if err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}
	checkers = append(checkers, sdk.HealthChecker())

	// -------------------------------------------------------------------------
	// 4. Servers & workers
	// -------------------------------------------------------------------------
	obs := observability.NewServer(logger.Component(log, "observability"), &cfg.Observability, checkers...)
	if err := obs.Start(); err != nil {
		_ = sdk.Stop(context.Background())
		return err
	}

	api := agent.NewAPI(logger.Component(log, "agent"), sdk, cfg.Agent.MaxBodyBytes)
	httpServer := agent.NewServer(logger.Component(log, "agent"), &cfg.Agent, api)
	if err := httpServer.Start(); err != nil {
		_ = sdk.Stop(context.Background())
		return err
	}

	health := agent.NewHealthServer(logger.Component(log, "grpc"), sdk.Ready)
	if err := health.Listen(net.JoinHostPort(cfg.Agent.Host, cfg.Agent.GRPCPort)); err != nil {
		_ = sdk.Stop(context.Background())
		return err
	}
	go health.Watch(ctx, time.Second)

	worker := syncer.New(logger.Component(log, "syncer"), syncer.Config{RefreshInterval: cfg.Flags.RefreshInterval}, sdk, sdk)
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(ctx) }()

	// -------------------------------------------------------------------------
	// 5. Graceful shutdown
	// -------------------------------------------------------------------------
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, httpServer.Shutdown(shutdownCtx))
	health.Shutdown(shutdownCtx)
	errs = append(errs, <-workerDone)

	if err := sdk.Flush(shutdownCtx); err != nil {
		log.Warn("final flush incomplete, events stay on disk", slog.String("error", err.Error()))
	}
	errs = append(errs, sdk.Stop(shutdownCtx))
	errs = append(errs, obs.Shutdown(shutdownCtx))

	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info("agent exited successfully")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}
