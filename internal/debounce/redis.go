package debounce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares debounce state between worker processes. Each emission is a
// SET NX with the window as expiry, so the key disappears on its own and no
// eviction is needed. Expiry runs on the Redis server clock; now is only
// stored as the value for inspection.
type Redis struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedis creates a debouncer storing keys under prefix.
func NewRedis(client *redis.Client, prefix string, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "attendance:debounce:"
	}
	return &Redis{client: client, prefix: prefix, window: window}
}

// ShouldEmit returns true when this call created the key.
func (r *Redis) ShouldEmit(ctx context.Context, key string, now time.Time) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, now.UnixMilli(), r.window).Result()
}
