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

	"github.com/kirillkom/caseindex/internal/bootstrap"
	"github.com/kirillkom/caseindex/internal/config"
	"github.com/kirillkom/caseindex/internal/core/ports"
	"github.com/kirillkom/caseindex/internal/infrastructure/queue/nats"
	"github.com/kirillkom/caseindex/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("caseindex-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.Worker.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", "error", err)
		}
	}()

	// Notifications only shorten the wait; the poll still finds everything.
	wake := make(chan struct{}, 1)
	go func() {
		err := app.Notifier.SubscribeRetryReady(ctx, func(_ context.Context, msg nats.RetryReady) error {
			logger.Debug("retry_ready_received", "run_id", msg.RunID, "entries", msg.Entries)
			select {
			case wake <- struct{}{}:
			default:
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("retry_subscription_failed", "subject", cfg.NATSRetrySubject, "error", err)
		}
	}()

	logger.Info("worker_started", "poll_interval", cfg.RetryPollInterval.String(), "subject", cfg.NATSRetrySubject)
	ticker := time.NewTicker(cfg.RetryPollInterval)
	defer ticker.Stop()
	for {
		drain(ctx, logger, app.RetryUC, cfg.RetryBatchLimit)
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsServer.Shutdown(shutdownCtx)
			cancel()
			logger.Info("worker_stopped")
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// drain keeps claiming batches until one comes back short.
func drain(ctx context.Context, logger *slog.Logger, uc ports.RetryDrainer, batchLimit int) {
	for ctx.Err() == nil {
		report, err := uc.Drain(ctx, ports.RetryRequest{BatchLimit: batchLimit})
		if err != nil {
			logger.Error("retry_drain_failed", "error", err)
			return
		}
		if report.Claimed > 0 {
			logger.Info("retry_drain_batch", "claimed", report.Claimed)
		}
		if batchLimit <= 0 || report.Claimed < batchLimit {
			return
		}
	}
}
