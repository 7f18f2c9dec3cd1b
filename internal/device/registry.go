// Package device keeps track of registered scanner devices and their refresh tokens.
package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrDeviceIDRequired = errors.New("device id required")
	// ErrTokenRejected covers unknown, revoked and expired refresh tokens alike.
	ErrTokenRejected = errors.New("refresh token rejected")
)

// Registry persists devices and refresh tokens.
type Registry struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewRegistry creates a registry on db. clock may be nil.
func NewRegistry(db *sql.DB, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{db: db, clock: clock}
}

// Register ensures a device record exists.
func (r *Registry) Register(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrDeviceIDRequired
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID, r.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("register device %s: %w", deviceID, err)
	}
	return nil
}

// Exists reports whether deviceID has been registered.
func (r *Registry) Exists(ctx context.Context, deviceID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE device_id = $1`, deviceID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Registry) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, device_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, deviceID, expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// Rotate consumes a live refresh token and returns the device it belongs to.
// The token is revoked in the same statement that checks it, so it can be
// used once.
func (r *Registry) Rotate(ctx context.Context, token string) (string, error) {
	var deviceID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND revoked = FALSE AND expires_at > $2
		RETURNING device_id
	`, token, r.clock.Now().UnixMilli()).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTokenRejected
	}
	if err != nil {
		return "", fmt.Errorf("rotate refresh token: %w", err)
	}
	return deviceID, nil
}

// RevokeRefreshToken marks a token revoked.
func (r *Registry) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}
