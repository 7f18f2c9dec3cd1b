package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"beaconattend/internal/logging"
	"beaconattend/internal/student"
)

// UnknownName is shown when a cached payload cannot be read.
const UnknownName = "unknown"

// Line is a report row: the attendance record plus display fields taken from
// the cached profile.
type Line struct {
	Record
	FullName    string  `json:"fullname"`
	Filiere     *string `json:"filiere,omitempty"`
	Orientation *string `json:"orientation,omitempty"`
}

// Options are the values a reporting view can filter on.
type Options struct {
	Promotions []string `json:"promotions"`
	Facultes   []string `json:"facultes"`
}

// Report serves filtered attendance listings.
type Report struct {
	ledger *Ledger
	log    *slog.Logger
}

// NewReport creates a report over ledger.
func NewReport(ledger *Ledger, logger *slog.Logger) *Report {
	return &Report{ledger: ledger, log: logging.OrDefault(logger)}
}

// Query validates the date and returns matching lines, latest first.
func (r *Report) Query(ctx context.Context, f Filter) ([]Line, error) {
	if _, err := time.Parse(DateLayout, f.Date); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, f.Date)
	}

	entries := r.ledger.Filtered(ctx, f)
	lines := make([]Line, 0, len(entries))
	for _, e := range entries {
		line := Line{Record: e.Record, FullName: UnknownName}
		p, err := student.DecodeProfile(e.StudentPayload)
		if err != nil {
			r.log.Warn("unreadable cached profile", "matricule", e.StudentMatricule, "err", err)
		} else {
			if p.FullName != "" {
				line.FullName = p.FullName
			}
			line.Filiere = p.Promotion()
			line.Orientation = p.Faculte()
		}
		lines = append(lines, line)
	}
	r.log.Debug("attendance report", "date", f.Date, "lines", len(lines))
	return lines, nil
}

// Options lists the promotions and faculties seen so far.
func (r *Report) Options(ctx context.Context) Options {
	return Options{
		Promotions: r.ledger.Promotions(ctx),
		Facultes:   r.ledger.Facultes(ctx),
	}
}
