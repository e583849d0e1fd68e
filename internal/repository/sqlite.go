package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys so registration cascades work
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Devices (one row per wallet, keyed by the device-chosen identifier)
	CREATE TABLE IF NOT EXISTS devices (
		device_library_id TEXT PRIMARY KEY,
		push_token TEXT NOT NULL,
		registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Issued passes
	CREATE TABLE IF NOT EXISTS passes (
		pass_type_id TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		template_id TEXT NOT NULL DEFAULT '',
		auth_token TEXT NOT NULL,
		update_tag INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pass_type_id, serial_number)
	);

	-- Device <-> pass registrations (the many-to-many join)
	CREATE TABLE IF NOT EXISTS registrations (
		device_library_id TEXT NOT NULL
			REFERENCES devices(device_library_id) ON DELETE CASCADE,
		pass_type_id TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
