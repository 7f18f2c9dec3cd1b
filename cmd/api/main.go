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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"beaconattend/internal/app"
	"beaconattend/internal/auth"
	"beaconattend/internal/config"
	"beaconattend/internal/device"
	"beaconattend/internal/handler"
	"beaconattend/internal/httpmiddleware"
	"beaconattend/internal/metrics"
	"beaconattend/internal/scan"
	"beaconattend/internal/store"
)

func main() {
	envFile := pflag.String("env-file", ".env", "optional dotenv file")
	pflag.Parse()

	cfg := config.Load(*envFile)

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	logger := app.Logger(cfg)

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := app.OpenRedis(cfg)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	q, err := app.NewQueue(cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	c, err := app.Build(cfg, db, rdb, nil, m, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// With the in-memory queue nothing else can drain it, so the pipeline runs here.
	if cfg.QueueBackend == app.BackendMemory {
		in, err := scan.Source(ctx, q, logger)
		if err != nil {
			return err
		}
		go c.Pipeline.Run(ctx, in, cfg.Workers)
		go c.Pipeline.Sweep(ctx, cfg.DebounceEvictInterval)
		logger.Info("pipeline running in-process", "workers", cfg.Workers)
	}

	h := handler.New(handler.Deps{
		DB:         db,
		Redis:      rdb,
		Queue:      q,
		Signer:     auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey),
		Devices:    device.NewRegistry(db.Client, nil),
		Ledger:     c.Ledger,
		Report:     c.Report,
		Cache:      c.Cache,
		Resolver:   c.Resolver,
		Metrics:    m,
		Logger:     logger.With("component", "http"),
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})

	opts := handler.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, nil),
	}
	if cfg.ExposeMetrics {
		opts.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", srv.Addr, "db", cfg.DBDriver, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "err", err)
	}
	cancel()

	logger.Info("server exited")
	return nil
}
