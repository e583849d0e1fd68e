package repository

import (
	"context"
	"database/sql"
)

// findOrCreate runs a conditional insert (INSERT ... ON CONFLICT DO
// NOTHING) and reports whether a row was created. All three entity repos
// share this primitive so the idempotent register path has exactly one
// race-safe implementation; the database's unique constraint is the
// arbiter, not a read-then-write check.
func findOrCreate(ctx context.Context, db *sql.DB, insertQuery string, args ...interface{}) (bool, error) {
	result, err := db.ExecContext(ctx, insertQuery, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
