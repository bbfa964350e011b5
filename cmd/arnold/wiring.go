package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/wilsonaustin10/arnoldaibackend/config"
	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/statestore"
	"github.com/wilsonaustin10/arnoldaibackend/storage/memory"
	"github.com/wilsonaustin10/arnoldaibackend/storage/postgres"
	"github.com/wilsonaustin10/arnoldaibackend/storage/sqlite"
	"github.com/wilsonaustin10/arnoldaibackend/telemetry"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// openRepository opens the configured workout repository and, when migrate
// is set, applies its embedded migrations.
func openRepository(ctx context.Context, cfg config.StorageConfig, migrate bool) (workout.Repository, error) {
	var repo workout.Repository
	switch cfg.Driver {
	case config.DriverSQLite:
		r, err := sqlite.Open(ctx, cfg.DSN, logger.DefaultLogger)
		if err != nil {
			return nil, err
		}
		repo = r
	case config.DriverPostgres:
		r, err := postgres.New(ctx, cfg.DSN, logger.DefaultLogger)
		if err != nil {
			return nil, err
		}
		repo = r
	case config.DriverMemory:
		logger.Warn("Using in-memory workout storage; workouts are lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	if m, ok := repo.(migrator); ok && migrate {
		if err := m.Migrate(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to migrate %s storage: %w", cfg.Driver, err)
		}
	}
	logger.Info("Workout storage ready", "driver", cfg.Driver)
	return repo, nil
}

// openSnapshotStore returns the Redis snapshot store when an address is
// configured, else an in-process store.
func openSnapshotStore(ctx context.Context, cfg config.RedisConfig) (statestore.Store, func(), error) {
	if cfg.Addr == "" {
		return statestore.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}

	var opts []statestore.RedisOption
	if cfg.Prefix != "" {
		opts = append(opts, statestore.WithPrefix(cfg.Prefix))
	}
	if cfg.TTL > 0 {
		opts = append(opts, statestore.WithTTL(cfg.TTL))
	}
	logger.Info("Session snapshots stored in redis", "addr", cfg.Addr)
	return statestore.NewRedisStore(client, opts...), func() { _ = client.Close() }, nil
}

// setupTracing installs the global OTLP tracer provider when enabled. The
// returned func flushes and stops it.
func setupTracing(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context), error) {
	if !cfg.Enabled {
		return func(context.Context) {}, nil
	}

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.ProviderOptions{
		Endpoint:    cfg.Endpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		SampleRatio: cfg.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	telemetry.SetupPropagation()
	logger.Info("Tracing enabled", "endpoint", cfg.Endpoint,
		"environment", cfg.Environment, "sample_ratio", cfg.SampleRatio)

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Tracer provider shutdown failed", "error", err)
		}
	}, nil
}
