// Package main is the entrypoint for the gtmdocs API server.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yoyaba/gtmdocs/internal/api"
	"github.com/yoyaba/gtmdocs/internal/api/handler"
	mw "github.com/yoyaba/gtmdocs/internal/api/middleware"
	"github.com/yoyaba/gtmdocs/internal/config"
	"github.com/yoyaba/gtmdocs/internal/docgen"
	"github.com/yoyaba/gtmdocs/internal/drive"
	"github.com/yoyaba/gtmdocs/internal/idempotency"
	"github.com/yoyaba/gtmdocs/internal/jobs"
	"github.com/yoyaba/gtmdocs/internal/observability"
	"github.com/yoyaba/gtmdocs/internal/openai"
	"github.com/yoyaba/gtmdocs/internal/retry"
)

const (
	version         = "0.3.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config — .env is optional, fail fast on invalid config
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"model", cfg.OpenAI.Model,
		"job_backend", cfg.Store.JobBackend,
		"idempotency_backend", cfg.Store.IdempotencyBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Job store
	healthChecks := map[string]handler.HealthCheck{}
	jobStore, cleanup, err := newJobStore(ctx, cfg, healthChecks)
	if err != nil {
		return err
	}
	defer cleanup()

	// 3. Idempotency store
	keys, err := newIdempotencyStore(ctx, cfg, healthChecks)
	if err != nil {
		return err
	}

	// 4. Provider clients
	research := openai.NewHTTPClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.SubmitTimeout)
	verifier, err := openai.NewWebhookVerifier(cfg.OpenAI.WebhookSecret)
	if err != nil {
		return fmt.Errorf("webhook verifier: %w", err)
	}

	driveClient := drive.NewHTTPClient(cfg.Drive.BaseURL, cfg.Drive.DocsBaseURL, cfg.Drive.AccessToken, cfg.Drive.Timeout)
	materializer := drive.NewMaterializer(driveClient, retry.DefaultPolicy(),
		cfg.Drive.TemplateDocID, cfg.Drive.RootFolderID, cfg.Drive.ShareWithEmail, logger)

	// 5. Metrics, service, dispatcher
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	service := docgen.NewService(jobStore, keys, research, materializer, retry.DefaultPolicy(),
		metrics, logger, cfg.OpenAI.Model, cfg.Processor.StaleAfter)

	dispatcher := docgen.NewDispatcher(service, cfg.Processor.QueueSize, cfg.Processor.Workers, metrics, logger)
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	// 6. Build router with dependencies
	deps := api.Dependencies{
		Auth: mw.NewAuth(cfg.Server.APIKeyHash),

		RootHandler:     handler.NewRootHandler(version),
		HealthHandler:   handler.NewHealthHandler(version, healthChecks),
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		GenerateHandler: handler.NewGenerateHandler(service),
		StatusHandler:   handler.NewStatusHandler(service),
		WebhookHandler:  handler.NewWebhookHandler(verifier, dispatcher, metrics, logger),
	}
	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Dispatcher drain happens in the deferred Stop: in-flight events finish
	// before the process exits.
	slog.Info("server stopped gracefully")
	return nil
}

func newJobStore(ctx context.Context, cfg *config.Config, checks map[string]handler.HealthCheck) (jobs.Store, func(), error) {
	switch cfg.Store.JobBackend {
	case "postgres":
		pool, err := jobs.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := jobs.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database connected, migrations applied")
		checks["database"] = pool.Ping
		return jobs.NewPostgresStore(pool), pool.Close, nil
	default:
		slog.Info("using in-memory job store")
		return jobs.NewMemoryStore(), func() {}, nil
	}
}

func newIdempotencyStore(ctx context.Context, cfg *config.Config, checks map[string]handler.HealthCheck) (idempotency.Store, error) {
	switch cfg.Store.IdempotencyBackend {
	case "redis":
		store, err := idempotency.NewRedisStore(cfg.Redis.URL, cfg.Processor.ClaimRetention)
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		checks["claim_store"] = store.Ping
		return store, nil
	default:
		slog.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(cfg.Processor.ClaimRetention), nil
	}
}
