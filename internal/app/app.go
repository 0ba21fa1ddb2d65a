// Package app wires the SWIFT code service to the backends selected by
// configuration. Both the HTTP server and swiftctl build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"swiftregistry/internal/platform/config"
	"swiftregistry/internal/platform/kafka"
	platformmetrics "swiftregistry/internal/platform/metrics"
	"swiftregistry/internal/platform/middleware"
	"swiftregistry/internal/platform/postgres"
	"swiftregistry/internal/platform/redis"
	"swiftregistry/internal/swiftcode/events"
	"swiftregistry/internal/swiftcode/metrics"
	"swiftregistry/internal/swiftcode/ports"
	"swiftregistry/internal/swiftcode/service"
	"swiftregistry/internal/swiftcode/store"
	httptransport "swiftregistry/internal/transport/http"
)

// App holds the wired service and the resources it owns.
type App struct {
	Service  *service.Service
	Registry *prometheus.Registry
	Checks   map[string]httptransport.Pinger

	process *platformmetrics.Metrics
	logger  *slog.Logger
	closers []func() error
}

// Build opens every configured backend and constructs the service. Backends
// left unconfigured fall back to the in-memory store, no cache and no events.
// On error everything opened so far is closed.
func Build(ctx context.Context, cfg config.Server, logger *slog.Logger, version string) (_ *App, err error) {
	a := &App{
		Registry: platformmetrics.NewRegistry(),
		Checks:   make(map[string]httptransport.Pinger),
		logger:   logger,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	a.Registry.MustRegister(middleware.RequestDuration)
	a.process = platformmetrics.New(a.Registry)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(metrics.New(a.Registry)),
	}

	storeKind := "memory"
	var records ports.StoreTx
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, db.Close)
		if err := store.Migrate(ctx, db); err != nil {
			return nil, err
		}
		records = store.NewPostgres(db, store.WithTxTimeout(cfg.Database.TxTimeout))
		a.Checks["postgres"] = db.PingContext
		storeKind = "postgres"
	} else {
		records = store.NewInMemory()
	}

	client, err := redis.Open(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client != nil {
		a.closers = append(a.closers, client.Close)
		opts = append(opts, service.WithCache(store.NewRedisCache(client, cfg.Redis.CacheTTL)))
		a.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	producer, err := kafka.New(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if producer != nil {
		a.closers = append(a.closers, func() error { producer.Close(); return nil })
		if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
			return nil, err
		}
		opts = append(opts, service.WithEventPublisher(events.NewBreakerPublisher(events.NewKafkaPublisher(producer, cfg.Kafka.Topic))))
		a.Checks["kafka"] = producer.Ping
	}

	a.Service = service.New(records, opts...)
	a.process.SetBuildInfo(version, storeKind, client != nil, producer != nil)
	logger.InfoContext(ctx, "swift registry wired",
		"store", storeKind,
		"cache", client != nil,
		"events", producer != nil,
	)
	return a, nil
}

// Seed ingests the workbook at path. A missing file is logged and skipped.
func (a *App) Seed(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.WarnContext(ctx, "seed workbook not found, starting empty", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open seed workbook: %w", err)
	}
	defer f.Close()

	result, err := a.Service.IngestWorkbook(ctx, f)
	if err != nil {
		return fmt.Errorf("ingest seed workbook %s: %w", path, err)
	}
	a.process.SeedRows.Set(float64(result.Persisted))
	return nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
