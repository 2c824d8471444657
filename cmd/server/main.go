// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command server runs the trust engine.
//
//	server [serve]          start the HTTP server
//	server migrate up|down  apply or roll back the schema
//	server purge            erase tenants past their grace period and expired sign-in tokens
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/trustcore/internal/clock"
	"github.com/opentrusty/trustcore/internal/config"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
	"github.com/opentrusty/trustcore/internal/observability/tracing"
	"github.com/opentrusty/trustcore/internal/store/postgres"
	transportHTTP "github.com/opentrusty/trustcore/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTel:        cfg.Observability.OTELEnabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg)
	case "migrate":
		err = runMigrate(cfg, os.Args[2:])
	case "purge":
		err = runPurge(ctx, cfg)
	default:
		err = fmt.Errorf("unknown command %q (want serve, migrate or purge)", cmd)
	}
	if err != nil {
		slog.Error(cmd+" failed", logger.Error(err))
		os.Exit(1)
	}
}

// initTracer falls back to a no-op tracer when the exporter cannot be set up.
func initTracer(ctx context.Context, cfg *config.Config) *tracing.Tracer {
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		Endpoint:       cfg.Observability.OTELEndpoint,
		Insecure:       cfg.Observability.OTELInsecure,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		tracer, _ = tracing.New(ctx, tracing.Config{ServiceName: cfg.Observability.ServiceName})
	}
	return tracer
}

func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting trustcore")

	tracer := initTracer(ctx, cfg)
	defer tracer.Shutdown(context.Background())

	instruments, err := metrics.NewInstruments(metrics.New(metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName))
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	cache, closeCache, err := openFeatureCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("feature cache: %w", err)
	}
	defer closeCache()

	svc := newServices(cfg, b, cache, clock.System())

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go rateLimiter.Run(ctx, time.Minute)

	handler := transportHTTP.NewHandler(transportHTTP.Options{
		Tenants:             svc.tenants,
		Signin:              svc.signin,
		AuthConfig:          svc.authConfig,
		Features:            svc.features,
		Validator:           svc.validator,
		Metrics:             instruments,
		Health:              b.health,
		ManagementKey:       cfg.Security.ManagementKey,
		CancellationBaseURL: cfg.Server.CancellationBaseURL,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      transportHTTP.NewRouter(handler, rateLimiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", logger.Component("server"), logger.Operation("listen"), slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func runMigrate(cfg *config.Config, args []string) error {
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrate requires the postgres driver, got %q", cfg.Database.Driver)
	}
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	dsn := databaseConfig(cfg).ConnString()

	switch direction {
	case "up":
		if err := postgres.MigrateUp(dsn); err != nil {
			return err
		}
	case "down":
		if err := postgres.MigrateDown(dsn); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown migrate direction %q (want up or down)", direction)
	}

	version, dirty, err := postgres.MigrationVersion(dsn)
	if err != nil {
		return err
	}
	slog.Info("migration complete", slog.String("direction", direction), slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

// runPurge is meant to be run from cron. It never runs inside serve.
func runPurge(ctx context.Context, cfg *config.Config) error {
	tracer := initTracer(ctx, cfg)
	defer tracer.Shutdown(context.Background())
	ctx, span := tracer.Start(ctx, "purge")
	defer span.End()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	// purged tenants must not leave cached flags behind
	cache, closeCache, err := openFeatureCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("feature cache: %w", err)
	}
	defer closeCache()

	svc := newServices(cfg, b, cache, clock.System())

	deleted, err := svc.tenants.PurgeDue(ctx)
	for _, id := range deleted {
		slog.InfoContext(ctx, "tenant purged", logger.TenantID(id))
	}
	if err != nil {
		return fmt.Errorf("purge tenants: %w", err)
	}

	removed, err := svc.signin.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge signin tokens: %w", err)
	}
	slog.InfoContext(ctx, "purge complete", slog.Int("tenants", len(deleted)), logger.RowsAffected(removed))
	return nil
}
