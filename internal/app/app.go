// Package app assembles the pipeline components from configuration. The api
// and worker binaries share it.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"beaconattend/internal/attendance"
	"beaconattend/internal/config"
	"beaconattend/internal/debounce"
	"beaconattend/internal/logging"
	"beaconattend/internal/metrics"
	"beaconattend/internal/queue"
	"beaconattend/internal/scan"
	"beaconattend/internal/store"
	"beaconattend/internal/student"
)

// Backend names accepted by QUEUE_BACKEND and DEBOUNCE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendAMQP   = "amqp"
)

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT and installs it as the slog default.
func Logger(cfg config.App) *slog.Logger {
	l := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("env", cfg.Env)
	slog.SetDefault(l)
	return l
}

// NeedsRedis reports whether any configured backend lives in Redis.
func NeedsRedis(cfg config.App) bool {
	return cfg.QueueBackend == BackendRedis || cfg.DebounceBackend == BackendRedis
}

// OpenRedis returns a client when the configuration uses Redis, nil otherwise.
func OpenRedis(cfg config.App) *store.Redis {
	if !NeedsRedis(cfg) {
		return nil
	}
	return store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

// Queue is a queue that may hold a connection to release.
type Queue interface {
	queue.Queue
	Close() error
}

type nopCloser struct{ queue.Queue }

func (nopCloser) Close() error { return nil }

// NewQueue picks the observation transport named by QUEUE_BACKEND.
func NewQueue(cfg config.App, rdb *store.Redis, logger *slog.Logger) (Queue, error) {
	switch cfg.QueueBackend {
	case BackendMemory, "":
		return nopCloser{queue.NewInMemory(256)}, nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis queue needs a redis client")
		}
		return nopCloser{queue.NewRedisQueue(rdb.Client, cfg.QueueName)}, nil
	case BackendAMQP:
		return queue.NewAMQPQueue(cfg.AMQPURL, cfg.QueueName, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

// NewDebouncer picks the debounce store named by DEBOUNCE_BACKEND.
func NewDebouncer(cfg config.App, rdb *store.Redis, layer string, window time.Duration) (debounce.Debouncer, error) {
	switch cfg.DebounceBackend {
	case BackendMemory, "":
		return debounce.NewMemory(window), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis debouncer needs a redis client")
		}
		return debounce.NewRedis(rdb.Client, "attendance:debounce:"+layer+":", window), nil
	default:
		return nil, fmt.Errorf("unknown debounce backend %q", cfg.DebounceBackend)
	}
}

// Components are the long-lived pieces built on one database.
type Components struct {
	Cache    *student.SQLCache
	Resolver *student.Resolver
	Ledger   *attendance.Ledger
	Recorder *attendance.Recorder
	Report   *attendance.Report
	Pipeline *scan.Pipeline
}

// Build wires the cache, resolver, ledger and pipeline. clock and m may be nil.
func Build(cfg config.App, db *store.DB, rdb *store.Redis, clock clockwork.Clock, m *metrics.Metrics, logger *slog.Logger) (Components, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger = logging.OrDefault(logger)

	radio, err := NewDebouncer(cfg, rdb, "radio", cfg.RadioCooldown)
	if err != nil {
		return Components{}, err
	}
	business, err := NewDebouncer(cfg, rdb, "business", cfg.BusinessCooldown)
	if err != nil {
		return Components{}, err
	}

	c := Components{Cache: student.NewSQLCache(db.Client)}
	c.Resolver = student.NewResolver(c.Cache, student.NewClient(cfg.ProfileServiceURL, cfg.ProfileTimeout), clock, logger.With("component", "resolver"))
	c.Ledger = attendance.NewLedger(db.Client, cfg.Location(), logger.With("component", "ledger"))
	c.Recorder = attendance.NewRecorder(c.Ledger, clock, logger.With("component", "recorder"))
	c.Report = attendance.NewReport(c.Ledger, logger.With("component", "report"))
	c.Pipeline = scan.NewPipeline(scan.Deps{
		Radio:    scan.NewRadioFilter(cfg.RSSIThreshold, radio),
		Resolver: c.Resolver,
		Business: business,
		Recorder: c.Recorder,
		Clock:    clock,
		Metrics:  m,
		Logger:   logger.With("component", "pipeline"),
	})
	return c, nil
}
