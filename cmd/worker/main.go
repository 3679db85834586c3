package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/creditd/internal/app"
	"github.com/felixgeelhaar/creditd/pkg/config"
	"github.com/felixgeelhaar/creditd/pkg/observability"
)

// The worker owns the background side of reconciliation: relaying committed
// outbox events to the broker, pruning delivered messages, and the monthly
// credit reset for yearly subscribers.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.LoggerFromEnv()
	logger.Info("starting creditd worker")

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	processor := container.OutboxProcessor
	logger.Info("starting outbox processor",
		"poll_interval", cfg.OutboxPollInterval,
		"batch_size", cfg.OutboxBatchSize,
		"max_retries", cfg.OutboxMaxRetries,
	)
	if err := processor.Start(ctx); err != nil {
		logger.Error("failed to start outbox processor", "error", err)
		os.Exit(1)
	}

	cleanupTicker := time.NewTicker(cfg.OutboxCleanupInterval)
	defer cleanupTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanupTicker.C:
				deleted, err := container.OutboxRepo.DeleteOld(ctx, cfg.OutboxRetentionDays)
				if err != nil {
					logger.Error("outbox cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					logger.Info("outbox cleanup completed",
						"deleted", deleted, "retention_days", cfg.OutboxRetentionDays)
				}
			}
		}
	}()

	if cfg.MonthlyResetEnabled {
		resetTicker := time.NewTicker(cfg.MonthlyResetCheck)
		defer resetTicker.Stop()
		go func() {
			runReset := func() {
				count, err := container.MonthlyReset.Run(ctx, time.Now().UTC())
				if err != nil {
					logger.Error("monthly reset run had failures", "error", err)
				}
				if count > 0 {
					logger.Info("monthly reset completed", "subscriptions_reset", count)
				}
			}
			// The idempotency key makes frequent runs safe; each
			// subscription still resets once per calendar month.
			runReset()
			for {
				select {
				case <-ctx.Done():
					return
				case <-resetTicker.C:
					runReset()
				}
			}
		}()
	}

	if cfg.WorkerHealthAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/healthz", container.Health.HealthHandler())
		mux.HandleFunc("/statz", func(w http.ResponseWriter, r *http.Request) {
			stats := processor.GetStats()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"running":       processor.IsRunning(),
				"published":     stats.PublishedCount,
				"failed":        stats.FailedCount,
				"dead":          stats.DeadCount,
				"last_error":    stats.LastError,
				"last_error_at": stats.LastErrorAt,
			})
		})

		healthSrv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("health server shutdown error", "error", err)
			}
		}()
	}

	statsTicker := time.NewTicker(cfg.OutboxStatsInterval)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				stats := processor.GetStats()
				logger.Info("outbox stats",
					"running", processor.IsRunning(),
					"published", stats.PublishedCount,
					"failed", stats.FailedCount,
					"dead", stats.DeadCount,
					"last_error_at", stats.LastErrorAt,
					"last_error", stats.LastError,
				)
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down creditd worker")
	processor.Stop()
}
