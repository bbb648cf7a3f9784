package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/knowledge-pipeline/internal/bootstrap"
	"github.com/kirillkom/knowledge-pipeline/internal/config"
	natsq "github.com/kirillkom/knowledge-pipeline/internal/infrastructure/queue/nats"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	promoted, failed, err := app.Recoverer.RecoverStale(ctx)
	if err != nil {
		app.Logger.Error("stale recovery failed", "error", err)
	} else if promoted+failed > 0 {
		app.Logger.Info("stale recovery finished", "promoted", promoted, "failed", failed)
	}

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: metricsMux(app),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		log.Fatalf("worker pool error: %v", err)
	}
	defer pool.Release()

	app.Logger.Info("worker subscribed",
		"subject", cfg.NATSIngestSubject,
		"pool_size", cfg.WorkerPoolSize,
		"metrics_port", cfg.WorkerMetricsPort)

	err = app.Queue.SubscribeIngest(ctx, natsq.PooledHandler(pool, app.Logger, 15*time.Minute, app.Ingestor.IngestByID))
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

func metricsMux(app *bootstrap.App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
