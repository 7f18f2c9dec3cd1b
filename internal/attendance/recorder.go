package attendance

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"beaconattend/internal/logging"
	"beaconattend/internal/student"
)

// Recorder turns a resolved profile into exactly one ledger row per day.
type Recorder struct {
	ledger *Ledger
	clock  clockwork.Clock
	log    *slog.Logger
}

// NewRecorder creates a recorder backed by ledger. clock may be nil.
func NewRecorder(ledger *Ledger, clock clockwork.Clock, logger *slog.Logger) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{ledger: ledger, clock: clock, log: logging.OrDefault(logger)}
}

// Execute records attendance for p as of now. Inactive students get
// ErrIneligibleStudent; ledger errors are returned unchanged.
func (r *Recorder) Execute(ctx context.Context, p student.Profile) (Record, error) {
	return r.ExecuteAt(ctx, p, r.clock.Now())
}

// ExecuteAt is Execute for a detection that happened at a known time.
func (r *Recorder) ExecuteAt(ctx context.Context, p student.Profile, at time.Time) (Record, error) {
	if !p.Eligible() {
		r.log.Info("attendance refused, student inactive", "matricule", p.Matricule, "active", p.Active)
		return Record{}, ErrIneligibleStudent
	}
	return r.ledger.Record(ctx, p.Matricule, p.Promotion(), p.Faculte(), at)
}
