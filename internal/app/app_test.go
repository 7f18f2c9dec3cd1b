package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconattend/internal/config"
	"beaconattend/internal/debounce"
	"beaconattend/internal/logging"
	"beaconattend/internal/queue"
	"beaconattend/internal/scan"
	"beaconattend/internal/store"
)

func TestNewQueue(t *testing.T) {
	q, err := NewQueue(config.App{QueueBackend: "memory"}, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, q.Close())

	_, err = NewQueue(config.App{QueueBackend: "redis"}, nil, nil)
	assert.Error(t, err)

	q, err = NewQueue(config.App{QueueBackend: "amqp", AMQPURL: "amqp://localhost:1/"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &queue.AMQPQueue{}, q)

	_, err = NewQueue(config.App{QueueBackend: "kafka"}, nil, nil)
	assert.Error(t, err)
}

func TestNewDebouncer(t *testing.T) {
	d, err := NewDebouncer(config.App{DebounceBackend: "memory"}, nil, "radio", time.Minute)
	require.NoError(t, err)
	m, ok := d.(*debounce.Memory)
	require.True(t, ok)
	assert.Equal(t, time.Minute, m.Window())

	_, err = NewDebouncer(config.App{DebounceBackend: "redis"}, nil, "radio", time.Minute)
	assert.Error(t, err)
}

func TestNeedsRedis(t *testing.T) {
	assert.False(t, NeedsRedis(config.App{QueueBackend: "memory", DebounceBackend: "memory"}))
	assert.True(t, NeedsRedis(config.App{QueueBackend: "amqp", DebounceBackend: "redis"}))
	assert.Nil(t, OpenRedis(config.App{QueueBackend: "memory"}))
}

func TestBuildRunsPipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"ok","data":{"id":1,"matricule":"UCB001","fullname":"Jean Dupont","active":1,"schoolFilieres":{"id":3,"shortName":"INFO"}},"errors":null}`))
	}))
	defer srv.Close()

	db, err := store.NewDB(store.DriverSQLite, "file::memory:?_foreign_keys=1")
	require.NoError(t, err)
	defer db.Close()

	cfg := config.App{
		ProfileServiceURL: srv.URL,
		ProfileTimeout:    time.Second,
		RSSIThreshold:     -50,
		RadioCooldown:     10 * time.Minute,
		BusinessCooldown:  10 * time.Minute,
		Timezone:          "UTC",
	}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC))
	c, err := Build(cfg, db, nil, clock, nil, logging.Discard())
	require.NoError(t, err)

	res := c.Pipeline.Handle(context.Background(), scan.NewObservation("", "UCB001", -40, clock.Now()))
	require.Equal(t, scan.OutcomeRecorded, res.Outcome, "%v", res.Err)
	assert.Len(t, c.Ledger.ByDate(context.Background(), "2025-03-03"), 1)
}
