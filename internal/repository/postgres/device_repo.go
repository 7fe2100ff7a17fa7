package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

type DeviceRepo struct {
	DB *sql.DB
}

func NewDeviceRepo(db *sql.DB) *DeviceRepo {
	return &DeviceRepo{DB: db}
}

const deviceSelectFields = `device_id, alias, user_agent, created_at, last_seen_at`

func scanDevice(row interface{ Scan(dest ...any) error }) (*domain.Device, error) {
	var d domain.Device
	var alias sql.NullString
	err := row.Scan(&d.DeviceID, &alias, &d.UserAgent, &d.CreatedAt, &d.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if alias.Valid {
		d.Alias = &alias.String
	}
	return &d, nil
}

// GetDevice returns nil, nil for a revoked or unknown device.
func (r *DeviceRepo) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	query := `SELECT ` + deviceSelectFields + ` FROM devices WHERE device_id = $1;`
	d, err := scanDevice(r.DB.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

// UpsertDevice creates the device or refreshes last_seen_at. A nil alias keeps
// the stored one.
func (r *DeviceRepo) UpsertDevice(ctx context.Context, d domain.DeviceUpsert) error {
	query := `
	INSERT INTO devices (device_id, alias, user_agent, created_at, last_seen_at)
	VALUES ($1, $2, $3, NOW(), NOW())
	ON CONFLICT (device_id) DO UPDATE SET
		alias = COALESCE(EXCLUDED.alias, devices.alias),
		user_agent = EXCLUDED.user_agent,
		last_seen_at = NOW();
	`
	if _, err := r.DB.ExecContext(ctx, query, d.DeviceID, nullString(d.Alias), d.UserAgent); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (r *DeviceRepo) ListDevices(ctx context.Context) ([]domain.Device, error) {
	query := `SELECT ` + deviceSelectFields + ` FROM devices ORDER BY last_seen_at DESC;`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]domain.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// UpdateDeviceAlias sets the alias; nil clears it.
func (r *DeviceRepo) UpdateDeviceAlias(ctx context.Context, deviceID string, alias *string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE devices SET alias = $2 WHERE device_id = $1;`, deviceID, nullString(alias))
	if err != nil {
		return fmt.Errorf("failed to update device alias: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteDevice reports whether a row was removed.
func (r *DeviceRepo) DeleteDevice(ctx context.Context, deviceID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM devices WHERE device_id = $1;`, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to delete device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete device: %w", err)
	}
	return n > 0, nil
}
