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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"beaconattend/internal/app"
	"beaconattend/internal/config"
	"beaconattend/internal/metrics"
	"beaconattend/internal/scan"
	"beaconattend/internal/store"
)

// Worker consumes observations from the queue and runs them through the pipeline.
func main() {
	envFile := pflag.String("env-file", ".env", "optional dotenv file")
	metricsAddr := pflag.String("metrics-addr", ":9091", "listen address for /metrics, empty to disable")
	pflag.Parse()

	cfg := config.Load(*envFile)
	logger := app.Logger(cfg)

	if cfg.QueueBackend == app.BackendMemory {
		log.Fatalf("QUEUE_BACKEND=memory is served by the api process; use redis or amqp for a separate worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	rdb := app.OpenRedis(cfg)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.ExposeMetrics && *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	q, err := app.NewQueue(cfg, rdb, logger)
	if err != nil {
		log.Fatalf("queue init failed: %v", err)
	}
	defer q.Close()

	c, err := app.Build(cfg, db, rdb, nil, m, logger)
	if err != nil {
		log.Fatalf("pipeline init failed: %v", err)
	}

	in, err := scan.Source(ctx, q, logger)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	go c.Pipeline.Sweep(ctx, cfg.DebounceEvictInterval)

	logger.Info("worker started, waiting for observations", "queue", cfg.QueueBackend, "workers", cfg.Workers)
	c.Pipeline.Run(ctx, in, cfg.Workers)
	logger.Info("worker stopped")
}
