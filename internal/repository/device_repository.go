package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/passhub/server/internal/models"
)

// DeviceRepository implements DeviceRepo for PostgreSQL/SQLite
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) Get(ctx context.Context, libraryID string) (*models.Device, error) {
	query := `SELECT device_library_id, push_token, registered_at, updated_at
			  FROM devices WHERE device_library_id = $1`

	var device models.Device
	err := r.db.QueryRowContext(ctx, query, libraryID).Scan(
		&device.LibraryID, &device.PushToken, &device.RegisteredAt, &device.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *DeviceRepository) Upsert(ctx context.Context, device *models.Device) (bool, error) {
	query := `INSERT INTO devices (device_library_id, push_token, registered_at, updated_at)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (device_library_id) DO NOTHING`

	created, err := findOrCreate(ctx, r.db, query,
		device.LibraryID, device.PushToken, device.RegisteredAt, device.UpdatedAt)
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}

	// Row exists: a re-registration may carry a fresh push token, which
	// supersedes the old one for any later notification. Placeholders are
	// numbered in first-appearance order because sqlite binds them
	// positionally, not by index.
	update := `UPDATE devices SET push_token = $1, updated_at = $2 WHERE device_library_id = $3`
	_, err = r.db.ExecContext(ctx, update, device.PushToken, time.Now().UTC(), device.LibraryID)
	return false, err
}

func (r *DeviceRepository) Delete(ctx context.Context, libraryID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM devices WHERE device_library_id = $1`, libraryID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *DeviceRepository) DeleteIfUnregistered(ctx context.Context, libraryID string) (bool, error) {
	query := `DELETE FROM devices
			  WHERE device_library_id = $1
			  AND NOT EXISTS (
				  SELECT 1 FROM registrations WHERE device_library_id = $1
			  )`

	result, err := r.db.ExecContext(ctx, query, libraryID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}
