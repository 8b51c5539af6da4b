package db

import (
	"database/sql"
	"fmt"
)

// SchemaSQL is the complete schema for fresh installs.
// This schema reflects the current state after all migrations.
//
// # Schema Drift Protection
//
// This is the SINGLE SOURCE OF TRUTH for the SQLite schema. Repository tests
// load it via GetSchemaSQL() instead of hardcoding CREATE TABLE statements,
// so a column referenced by repository code but missing here fails the tests
// immediately with "no such column".
//
// Timestamps are stored as fixed-width UTC text (see TimeLayout) so
// that lexical order matches chronological order.
//
// When adding new columns or tables:
//  1. Add a migration in migrations.go
//  2. Update SchemaSQL here
//  3. Mirror the change in internal/adapters/postgres/schema.sql
const SchemaSQL = `
-- Approval requests (aggregate root)
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	requester TEXT NOT NULL,
	approver TEXT NOT NULL,
	type TEXT NOT NULL CHECK(type IN ('despliegue', 'acceso', 'cambio_tecnico', 'pipeline', 'incorporacion', 'otro')),
	state TEXT NOT NULL CHECK(state IN ('pending', 'in_review', 'approved', 'rejected', 'cancelled')) DEFAULT 'pending',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);
CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests(requester);
CREATE INDEX IF NOT EXISTS idx_requests_approver ON requests(approver);
CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);

-- Audit history (append-only, one row per mutating operation)
CREATE TABLE IF NOT EXISTS request_history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	action TEXT NOT NULL CHECK(action IN ('created', 'updated', 'pending', 'in_review', 'approved', 'rejected', 'cancelled')),
	username TEXT NOT NULL,
	created_at TEXT NOT NULL,
	comment TEXT,
	prior_state TEXT,
	FOREIGN KEY (request_id) REFERENCES requests(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_request_history_request ON request_history(request_id);

-- Comments (created only by state changes that carry text)
CREATE TABLE IF NOT EXISTS request_comments (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	username TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL,
	category TEXT NOT NULL CHECK(category IN ('general', 'approved', 'rejected', 'review')) DEFAULT 'general',
	FOREIGN KEY (request_id) REFERENCES requests(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_request_comments_request ON request_comments(request_id);
`

// InitSchema brings the database schema up to date.
// Fresh databases get SchemaSQL directly and are marked as fully migrated;
// existing databases run any pending migrations.
func InitSchema(database *sql.DB) error {
	var tableCount int
	err := database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}

	if tableCount > 0 {
		return RunMigrations(database)
	}

	if _, err := database.Exec(SchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := ensureVersionTable(database); err != nil {
		return err
	}
	for _, m := range migrations {
		if _, err := database.Exec("INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to mark migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaSQL returns the authoritative schema SQL for use by tests.
// Tests should use this instead of hardcoding their own schema to prevent drift.
func GetSchemaSQL() string {
	return SchemaSQL
}
