package student

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"beaconattend/internal/logging"
)

// Fetcher is the remote side of the resolver. *Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, matricule string) (*Response, error)
}

// Resolution is the outcome of a successful lookup. Profile is nil when the
// service does not know the matricule.
type Resolution struct {
	Profile     *Profile
	FromCache   bool
	LastFetched time.Time
	Message     string
}

// Resolver turns a matricule into a profile: cache first, network second,
// writing network hits back to the cache. Cached entries always win; there
// is no staleness check.
type Resolver struct {
	cache  Cache
	remote Fetcher
	clock  clockwork.Clock
	log    *slog.Logger
}

// NewResolver wires a resolver. clock may be nil for the real clock.
func NewResolver(cache Cache, remote Fetcher, clock clockwork.Clock, logger *slog.Logger) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{cache: cache, remote: remote, clock: clock, log: logging.OrDefault(logger)}
}

// Resolve looks matricule up. Network errors wrap ErrNetworkTimeout or
// ErrNetworkFailure and are not retried.
func (r *Resolver) Resolve(ctx context.Context, matricule string) (Resolution, error) {
	entry, err := r.cache.Get(ctx, matricule)
	if err != nil {
		return Resolution{}, fmt.Errorf("read cache: %w", err)
	}
	if entry != nil {
		p, err := DecodeProfile(entry.Payload)
		if err != nil {
			return Resolution{}, fmt.Errorf("decode cached profile %s: %w", matricule, err)
		}
		r.log.Debug("profile served from cache", "matricule", matricule, "last_fetched", entry.LastFetched)
		return Resolution{Profile: &p, FromCache: true, LastFetched: entry.LastFetched, Message: "FromCache"}, nil
	}

	resp, err := r.remote.Fetch(ctx, matricule)
	if err != nil {
		r.log.Warn("profile fetch failed", "matricule", matricule, "err", err)
		return Resolution{}, err
	}

	res := Resolution{}
	if resp.Message != nil {
		res.Message = *resp.Message
	}
	if resp.Data == nil {
		r.log.Info("profile not found", "matricule", matricule)
		return res, nil
	}

	if resp.Data.Matricule == "" {
		resp.Data.Matricule = matricule
	}
	payload, err := resp.Data.Encode()
	if err != nil {
		return Resolution{}, fmt.Errorf("encode profile %s: %w", matricule, err)
	}
	now := r.clock.Now()
	// keyed on the returned matricule, which is what attendance rows reference
	if err := r.cache.Put(ctx, Entry{Matricule: resp.Data.Matricule, Payload: payload, LastFetched: now}); err != nil {
		return Resolution{}, fmt.Errorf("write cache: %w", err)
	}
	r.log.Info("profile fetched", "matricule", resp.Data.Matricule, "active", resp.Data.Active)

	res.Profile = resp.Data
	res.LastFetched = now
	return res, nil
}
