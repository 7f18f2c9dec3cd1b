package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"beaconattend/internal/attendance"
	"beaconattend/internal/debounce"
	"beaconattend/internal/logging"
	"beaconattend/internal/metrics"
	"beaconattend/internal/student"
)

// Outcome names where an observation left the pipeline.
type Outcome string

const (
	OutcomeAdmitted           Outcome = "admitted"
	OutcomeWeakSignal         Outcome = "weak_signal"
	OutcomeInvalid            Outcome = "invalid"
	OutcomeSuppressedRadio    Outcome = "suppressed_radio"
	OutcomeResolveFailed      Outcome = "resolve_failed"
	OutcomeNotFound           Outcome = "not_found"
	OutcomeSuppressedBusiness Outcome = "suppressed_business"
	OutcomeIneligible         Outcome = "ineligible"
	OutcomeAlreadyPresent     Outcome = "already_present"
	OutcomeRecorded           Outcome = "recorded"
	OutcomeFailed             Outcome = "failed"
)

// Result reports what happened to one observation. Err is set for failures
// and for ineligible students.
type Result struct {
	Outcome   Outcome
	Matricule string
	FromCache bool
	Profile   *student.Profile
	Record    *attendance.Record
	Err       error
}

// Pipeline wires the radio filter, the resolver, the business debouncer and
// the recorder, in that order.
type Pipeline struct {
	radio    *RadioFilter
	resolver *student.Resolver
	business debounce.Debouncer
	recorder *attendance.Recorder
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// Deps are the collaborators of a Pipeline. Clock, Metrics and Logger are optional.
type Deps struct {
	Radio    *RadioFilter
	Resolver *student.Resolver
	Business debounce.Debouncer
	Recorder *attendance.Recorder
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewPipeline assembles a pipeline from d.
func NewPipeline(d Deps) *Pipeline {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		radio:    d.Radio,
		resolver: d.Resolver,
		business: d.Business,
		recorder: d.Recorder,
		clock:    d.Clock,
		metrics:  d.Metrics,
		log:      logging.OrDefault(d.Logger),
	}
}

// Handle runs one observation to completion.
func (p *Pipeline) Handle(ctx context.Context, obs Observation) Result {
	res := p.handle(ctx, obs)
	p.metrics.Outcome(string(res.Outcome))

	attrs := []any{"id", obs.ID, "identifier", obs.Identifier, "rssi", obs.RSSI, "outcome", res.Outcome}
	switch res.Outcome {
	case OutcomeRecorded:
		p.log.Info("observation recorded", append(attrs, "matricule", res.Matricule, "from_cache", res.FromCache)...)
	case OutcomeFailed, OutcomeResolveFailed:
		p.log.Error("observation failed", append(attrs, "err", res.Err)...)
	default:
		p.log.Debug("observation dropped", attrs...)
	}
	return res
}

func (p *Pipeline) handle(ctx context.Context, obs Observation) Result {
	at := p.observedAt(obs)
	key, outcome, err := p.radio.Admit(ctx, obs, at)
	if outcome != OutcomeAdmitted {
		return Result{Outcome: outcome, Matricule: key, Err: err}
	}

	start := p.clock.Now()
	resolution, err := p.resolver.Resolve(ctx, key)
	took := p.clock.Since(start)
	switch {
	case err != nil:
		p.metrics.Resolved("error", took)
		return Result{Outcome: OutcomeResolveFailed, Matricule: key, Err: err}
	case resolution.Profile == nil:
		p.metrics.Resolved("not_found", took)
		return Result{Outcome: OutcomeNotFound, Matricule: key}
	case resolution.FromCache:
		p.metrics.Resolved("cache", took)
	default:
		p.metrics.Resolved("network", took)
	}

	profile := resolution.Profile
	res := Result{Matricule: profile.Matricule, FromCache: resolution.FromCache, Profile: profile}

	emit, err := p.business.ShouldEmit(ctx, profile.Matricule, at)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if !emit {
		res.Outcome = OutcomeSuppressedBusiness
		return res
	}

	rec, err := p.recorder.ExecuteAt(ctx, *profile, at)
	switch {
	case errors.Is(err, attendance.ErrIneligibleStudent):
		res.Outcome, res.Err = OutcomeIneligible, err
	case errors.Is(err, attendance.ErrAlreadyPresent):
		res.Outcome = OutcomeAlreadyPresent
	case err != nil:
		res.Outcome, res.Err = OutcomeFailed, err
	default:
		res.Outcome, res.Record = OutcomeRecorded, &rec
	}
	return res
}

// observedAt is the sighting time reported by the scanner, or now when it is
// missing or in the future. Queued sightings keep the day they were seen.
func (p *Pipeline) observedAt(obs Observation) time.Time {
	now := p.clock.Now()
	if obs.ObservedAt.IsZero() || obs.ObservedAt.After(now) {
		return now
	}
	return obs.ObservedAt
}

// Run drains in with the given number of workers until in is closed or ctx ends.
func (p *Pipeline) Run(ctx context.Context, in <-chan Observation, workers int) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case obs, ok := <-in:
					if !ok {
						return
					}
					p.Handle(ctx, obs)
				}
			}
		}()
	}
	wg.Wait()
}

// Sweep evicts stale entries from in-memory debouncers every interval until
// ctx ends. Entries older than twice a debouncer's window are dropped.
// Other debouncer kinds expire on their own and are skipped.
func (p *Pipeline) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	var mems []*debounce.Memory
	for _, d := range []debounce.Debouncer{p.radio.debouncer, p.business} {
		if m, ok := d.(*debounce.Memory); ok {
			mems = append(mems, m)
		}
	}
	if len(mems) == 0 {
		return
	}

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			now := p.clock.Now()
			for _, m := range mems {
				n := m.Evict(now.Add(-2 * m.Window()))
				p.metrics.Evicted(n)
				if n > 0 {
					p.log.Debug("debounce entries evicted", "count", n, "window", m.Window())
				}
			}
		}
	}
}
