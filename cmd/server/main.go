package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"swiftregistry/internal/app"
	"swiftregistry/internal/platform/config"
	"swiftregistry/internal/platform/httpserver"
	"swiftregistry/internal/platform/logger"
	"swiftregistry/internal/swiftcode/handler"
	"swiftregistry/internal/swiftcode/service"
	httptransport "swiftregistry/internal/transport/http"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("swift registry stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	registry, err := app.Build(ctx, cfg, log, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warn("failed to close backends", "error", err)
		}
	}()

	if err := registry.Seed(ctx, cfg.SeedFile); err != nil {
		return err
	}

	router := httptransport.NewRouter(registry.Registry, registry.Checks, handler.New(registry.Service, log))
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(ctx, "starting swift registry", "addr", cfg.Addr, "version", version)
		return httpserver.Run(ctx, srv)
	})
	if cfg.ReconcileInterval > 0 {
		g.Go(func() error {
			reconcileLoop(ctx, registry.Service, cfg.ReconcileInterval, log)
			return nil
		})
	}
	return g.Wait()
}

// reconcileLoop periodically heals branch links until ctx is cancelled.
func reconcileLoop(ctx context.Context, svc *service.Service, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Reconcile(ctx); err != nil && ctx.Err() == nil {
				log.WarnContext(ctx, "background reconciliation failed", "error", err)
			}
		}
	}
}
