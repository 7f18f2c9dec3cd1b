package scan

import (
	"context"
	"time"

	"beaconattend/internal/debounce"
)

// DefaultRSSIThreshold is the weakest signal still considered in range, exclusive.
const DefaultRSSIThreshold = -50

// RadioFilter is the first gate: it drops weak or unreadable sightings and
// collapses repeats of one identifier inside the radio cooldown.
type RadioFilter struct {
	threshold int
	debouncer debounce.Debouncer
}

// NewRadioFilter creates a filter admitting RSSI strictly above threshold.
func NewRadioFilter(threshold int, d debounce.Debouncer) *RadioFilter {
	return &RadioFilter{threshold: threshold, debouncer: d}
}

// Admit returns the sanitized identifier and OutcomeAdmitted when the
// sighting may continue down the pipeline. Rejected sightings do not touch
// the debouncer.
func (f *RadioFilter) Admit(ctx context.Context, obs Observation, now time.Time) (string, Outcome, error) {
	if obs.RSSI <= f.threshold {
		return "", OutcomeWeakSignal, nil
	}
	key := Sanitize(obs.Identifier)
	if key == "" {
		return "", OutcomeInvalid, nil
	}
	ok, err := f.debouncer.ShouldEmit(ctx, key, now)
	if err != nil {
		return key, OutcomeFailed, err
	}
	if !ok {
		return key, OutcomeSuppressedRadio, nil
	}
	return key, OutcomeAdmitted, nil
}
