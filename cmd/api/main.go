package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/clinical-rag-assistant/internal/adapters/http"
	"github.com/kirillkom/clinical-rag-assistant/internal/bootstrap"
	"github.com/kirillkom/clinical-rag-assistant/internal/config"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/observability/logging"
	"github.com/kirillkom/clinical-rag-assistant/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    "api",
		Registerer: httpMetrics.Registry(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// An empty corpus is not fatal: readyz reports 503 until the first
	// rebuild event arrives.
	if err := app.ReloadIndexes(ctx); err != nil {
		if !domain.IsKind(err, domain.ErrIndexNotLoaded) {
			logger.Error("index_load_error", "error", err)
			os.Exit(1)
		}
		logger.Warn("index_empty", "hint", "run qdoctor ingest")
	}

	go func() {
		if err := app.WatchIndexEvents(ctx); err != nil {
			logger.Error("index_events_error", "error", err)
		}
	}()

	router := httpadapter.NewRouter(cfg, app.Answerer, app.Loader, httpMetrics).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.CapabilityTimeout*5 + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
