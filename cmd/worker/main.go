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

	"github.com/kirillkom/clinical-rag-assistant/internal/bootstrap"
	"github.com/kirillkom/clinical-rag-assistant/internal/config"
	"github.com/kirillkom/clinical-rag-assistant/internal/observability/logging"
	"github.com/kirillkom/clinical-rag-assistant/internal/observability/metrics"
)

// The worker rebuilds the corpus from KB_PATH at startup and then every
// INGEST_INTERVAL, publishing a rebuild event each time.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewHTTPServerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:            "worker",
		Registerer:         workerMetrics.Registry(),
		Logger:             logger,
		WithoutAnswerCache: true,
	})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	runIngest(ctx, app, logger)
	if cfg.IngestInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.IngestInterval)
	defer ticker.Stop()
	logger.Info("worker_scheduled", "interval", cfg.IngestInterval.String(), "kb_path", cfg.KBPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runIngest(ctx, app, logger)
		}
	}
}

func runIngest(ctx context.Context, app *bootstrap.App, logger *slog.Logger) {
	ingestCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	if err := app.Ingest(ingestCtx, ""); err != nil {
		logger.Error("worker_ingest_failed", "error", err)
	}
}
