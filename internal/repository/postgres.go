package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		device_library_id TEXT PRIMARY KEY,
		push_token TEXT NOT NULL,
		registered_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS passes (
		pass_type_id TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		template_id TEXT NOT NULL DEFAULT '',
		auth_token TEXT NOT NULL,
		update_tag BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (pass_type_id, serial_number)
	);

	CREATE TABLE IF NOT EXISTS registrations (
		device_library_id TEXT NOT NULL
			REFERENCES devices(device_library_id) ON DELETE CASCADE,
		pass_type_id TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (device_library_id, pass_type_id, serial_number),
		FOREIGN KEY (pass_type_id, serial_number)
			REFERENCES passes(pass_type_id, serial_number) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_registrations_pass
		ON registrations(pass_type_id, serial_number);
	CREATE INDEX IF NOT EXISTS idx_registrations_device
		ON registrations(device_library_id);
	`

	_, err := db.Exec(schema)
	return err
}
