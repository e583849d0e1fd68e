package repository

import (
	"context"
	"database/sql"

	"github.com/passhub/server/internal/models"
)

// RegistrationRepository implements RegistrationRepo for PostgreSQL/SQLite
type RegistrationRepository struct {
	db *sql.DB
}

// NewRegistrationRepository creates a new RegistrationRepository
func NewRegistrationRepository(db *sql.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func (r *RegistrationRepository) Add(ctx context.Context, reg *models.Registration) (bool, error) {
	query := `INSERT INTO registrations (device_library_id, pass_type_id, serial_number, created_at)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (device_library_id, pass_type_id, serial_number) DO NOTHING`

	return findOrCreate(ctx, r.db, query,
		reg.DeviceLibraryID, reg.PassTypeID, reg.SerialNumber, reg.CreatedAt)
}

func (r *RegistrationRepository) Delete(ctx context.Context, libraryID, passTypeID, serialNumber string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM registrations
		 WHERE device_library_id = $1 AND pass_type_id = $2 AND serial_number = $3`,
		libraryID, passTypeID, serialNumber)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *RegistrationRepository) DevicesForPass(ctx context.Context, passTypeID, serialNumber string) ([]*models.Device, error) {
	query := `SELECT d.device_library_id, d.push_token, d.registered_at, d.updated_at
			  FROM devices d
			  JOIN registrations reg ON reg.device_library_id = d.device_library_id
			  WHERE reg.pass_type_id = $1 AND reg.serial_number = $2
			  ORDER BY d.device_library_id`

	rows, err := r.db.QueryContext(ctx, query, passTypeID, serialNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(&device.LibraryID, &device.PushToken,
			&device.RegisteredAt, &device.UpdatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, &device)
	}
	return devices, rows.Err()
}

func (r *RegistrationRepository) CountForDevice(ctx context.Context, libraryID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE device_library_id = $1`,
		libraryID).Scan(&count)
	return count, err
}
