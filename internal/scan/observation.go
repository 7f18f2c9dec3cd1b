// Package scan turns raw beacon observations into attendance records.
package scan

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Observation is one beacon sighting reported by a scanner device.
type Observation struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id,omitempty"`
	Identifier string    `json:"identifier"`
	RSSI       int       `json:"rssi"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewObservation stamps a sighting with a fresh ID.
func NewObservation(deviceID, identifier string, rssi int, at time.Time) Observation {
	return Observation{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Identifier: identifier,
		RSSI:       rssi,
		ObservedAt: at,
	}
}

// Sanitize strips everything from a raw beacon name except letters, digits
// and the separators '/', '.' and '-'. Surrounding whitespace and padding
// bytes go with it.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '/', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
