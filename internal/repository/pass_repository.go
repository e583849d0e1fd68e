package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/passhub/server/internal/models"
)

// PassRepository implements PassRepo for PostgreSQL/SQLite
type PassRepository struct {
	db *sql.DB
}

// NewPassRepository creates a new PassRepository
func NewPassRepository(db *sql.DB) *PassRepository {
	return &PassRepository{db: db}
}

func (r *PassRepository) Get(ctx context.Context, passTypeID, serialNumber string) (*models.Pass, error) {
	query := `SELECT pass_type_id, serial_number, template_id, auth_token, update_tag, created_at
			  FROM passes WHERE pass_type_id = $1 AND serial_number = $2`

	var pass models.Pass
	err := r.db.QueryRowContext(ctx, query, passTypeID, serialNumber).Scan(
		&pass.PassTypeID, &pass.SerialNumber, &pass.TemplateID,
		&pass.AuthToken, &pass.UpdateTag, &pass.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pass, nil
}

func (r *PassRepository) Add(ctx context.Context, pass *models.Pass) (bool, error) {
	query := `INSERT INTO passes (pass_type_id, serial_number, template_id, auth_token, update_tag, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (pass_type_id, serial_number) DO NOTHING`

	return findOrCreate(ctx, r.db, query,
		pass.PassTypeID, pass.SerialNumber, pass.TemplateID,
		pass.AuthToken, pass.UpdateTag, pass.CreatedAt)
}

// BumpUpdateTag advances the tag optimistically: read, compute the next
// tag, then update only if nobody raced us. Contention is per pass row,
// so a few retries are plenty.
func (r *PassRepository) BumpUpdateTag(ctx context.Context, passTypeID, serialNumber string) (int64, error) {
	const maxAttempts = 5

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var current int64
		err := r.db.QueryRowContext(ctx,
			`SELECT update_tag FROM passes WHERE pass_type_id = $1 AND serial_number = $2`,
			passTypeID, serialNumber).Scan(&current)
		if err == sql.ErrNoRows {
			return 0, models.ErrPassNotFound
		}
		if err != nil {
			return 0, err
		}

		next := models.NextUpdateTag(current, time.Now())

		// Placeholders numbered in first-appearance order; sqlite binds
		// them positionally.
		result, err := r.db.ExecContext(ctx,
			`UPDATE passes SET update_tag = $1
			 WHERE pass_type_id = $2 AND serial_number = $3 AND update_tag = $4`,
			next, passTypeID, serialNumber, current)
		if err != nil {
			return 0, err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		if rows > 0 {
			return next, nil
		}
	}

	return 0, fmt.Errorf("update tag contention on %s/%s", passTypeID, serialNumber)
}

func (r *PassRepository) RegisteredForDevice(ctx context.Context, libraryID, passTypeID string) ([]*models.Pass, error) {
	query := `SELECT p.pass_type_id, p.serial_number, p.template_id, p.auth_token, p.update_tag, p.created_at
			  FROM passes p
			  JOIN registrations reg
				ON reg.pass_type_id = p.pass_type_id AND reg.serial_number = p.serial_number
			  WHERE reg.device_library_id = $1 AND p.pass_type_id = $2
			  ORDER BY p.serial_number`

	rows, err := r.db.QueryContext(ctx, query, libraryID, passTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []*models.Pass
	for rows.Next() {
		var pass models.Pass
		if err := rows.Scan(&pass.PassTypeID, &pass.SerialNumber, &pass.TemplateID,
			&pass.AuthToken, &pass.UpdateTag, &pass.CreatedAt); err != nil {
			return nil, err
		}
		passes = append(passes, &pass)
	}
	return passes, rows.Err()
}
