package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// DeviceStore persists registered devices and their refresh tokens.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, deviceID, role string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	// RotateRefreshToken revokes token and reports whether it was still usable.
	RotateRefreshToken(ctx context.Context, token string) (bool, error)
}

// Devices is the Postgres DeviceStore.
type Devices struct {
	db *sql.DB
}

// NewDevices creates a device store.
func NewDevices(db *sql.DB) *Devices {
	return &Devices{db: db}
}

// UpsertDevice ensures a device record exists and refreshes its role.
func (d *Devices) UpsertDevice(ctx context.Context, deviceID, role string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, role)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET role = EXCLUDED.role, last_seen = NOW()
	`, deviceID, role)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (d *Devices) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// RotateRefreshToken marks a token revoked in one statement, so a token is usable once.
func (d *Devices) RotateRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > NOW()
	`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

var _ DeviceStore = (*Devices)(nil)
