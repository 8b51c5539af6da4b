// Package db opens the SQLite database and manages its schema.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDir is the per-user directory holding the database.
const DefaultDir = ".approvals"

// DefaultFile is the database file name inside DefaultDir.
const DefaultFile = "approvals.db"

// DefaultPath returns the path to the default database file.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDir, DefaultFile), nil
}

// DSN builds the go-sqlite3 connection string for path.
// Foreign keys are enforced on every connection, writers take the lock
// up front and wait for each other instead of failing with SQLITE_BUSY.
// Repository reads run in transactions too, so they queue behind writers.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
}

// Open opens the database at path, creating its directory if needed,
// and brings the schema up to date.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}
