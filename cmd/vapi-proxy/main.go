package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TahaAdapt/vapi-make-proxy/internal/callback"
	"github.com/TahaAdapt/vapi-make-proxy/internal/config"
	"github.com/TahaAdapt/vapi-make-proxy/internal/correlation"
	"github.com/TahaAdapt/vapi-make-proxy/internal/forwarder"
	"github.com/TahaAdapt/vapi-make-proxy/internal/metrics"
	"github.com/TahaAdapt/vapi-make-proxy/internal/payload"
	"github.com/TahaAdapt/vapi-make-proxy/internal/proxy"
	"github.com/TahaAdapt/vapi-make-proxy/internal/server"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage/memory"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage/sqlite"
	"github.com/TahaAdapt/vapi-make-proxy/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		stop()
		log.Fatalf("Proxy failed: %v", err)
	}
}

// run serves until ctx ends or the listener fails. Everything it opens is
// released before it returns.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracer, err := telemetry.InitTracer(telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open outcome store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close outcome store", slog.String("error", err.Error()))
		}
	}()

	fwd, err := forwarder.New(forwarder.Config{
		URL:     cfg.Downstream.URL,
		Timeout: cfg.Downstream.Timeout,
		Headers: cfg.Downstream.Headers,
	})
	if err != nil {
		return fmt.Errorf("create forwarder: %w", err)
	}

	table := correlation.NewTable[payload.Payload](cfg.Correlation.WaitTimeout)
	// Release waiting callers before the store goes away.
	defer table.Close()

	svc := proxy.NewService(table, fwd, store, logger)
	rc := callback.NewReconciler(table, callback.NewReshaper(cfg.Reshape.TraceKeys), store, logger)

	opts := server.Options{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer, table.Len); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		opts.Metrics = promhttp.Handler()
	}
	if cfg.Storage.Type != config.StorageNone {
		opts.Outcomes = store
	}

	srv := server.New(opts, svc, rc, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("proxy started",
		slog.String("downstream", fwd.URL()),
		slog.Duration("wait_timeout", table.Timeout()),
		slog.String("storage", cfg.Storage.Type),
	)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping proxy...")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Release waiting callers first so in-flight handlers can finish.
	table.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("Proxy shutdown complete")
	return nil
}

func openStore(cfg config.StorageConfig) (storage.OutcomeStore, error) {
	switch cfg.Type {
	case config.StorageMemory:
		return memory.New(cfg.Memory.MaxEntries), nil
	case config.StorageSQLite:
		return sqlite.New(cfg.SQLite.Path)
	default:
		return storage.Noop{}, nil
	}
}
