package db

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// migrations is the list of all migrations in order
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_requests_and_history",
		Up:      migrationV1,
	},
	{
		Version: 2,
		Name:    "create_request_comments",
		Up:      migrationV2,
	},
	{
		Version: 3,
		Name:    "add_version_to_requests",
		Up:      migrationV3,
	},
}

// LatestVersion returns the highest known migration version.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

func ensureVersionTable(database *sql.DB) error {
	_, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	return nil
}

// CurrentVersion returns the highest applied migration version.
func CurrentVersion(database *sql.DB) (int, error) {
	var currentVersion int
	err := database.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to get current schema version: %w", err)
	}
	return currentVersion, nil
}

// RunMigrations executes all pending migrations, each in its own transaction.
func RunMigrations(database *sql.DB) error {
	if err := ensureVersionTable(database); err != nil {
		return err
	}

	currentVersion, err := CurrentVersion(database)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := database.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func migrationV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			requester TEXT NOT NULL,
			approver TEXT NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('despliegue', 'acceso', 'cambio_tecnico', 'pipeline', 'incorporacion', 'otro')),
			state TEXT NOT NULL CHECK(state IN ('pending', 'in_review', 'approved', 'rejected', 'cancelled')) DEFAULT 'pending',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create requests: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS request_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			action TEXT NOT NULL CHECK(action IN ('created', 'updated', 'pending', 'in_review', 'approved', 'rejected', 'cancelled')),
			username TEXT NOT NULL,
			created_at TEXT NOT NULL,
			comment TEXT,
			prior_state TEXT,
			FOREIGN KEY (request_id) REFERENCES requests(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create request_history: %w", err)
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state)",
		"CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests(requester)",
		"CREATE INDEX IF NOT EXISTS idx_requests_approver ON requests(approver)",
		"CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_request_history_request ON request_history(request_id)",
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func migrationV2(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS request_comments (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			username TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL,
			category TEXT NOT NULL CHECK(category IN ('general', 'approved', 'rejected', 'review')) DEFAULT 'general',
			FOREIGN KEY (request_id) REFERENCES requests(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create request_comments: %w", err)
	}

	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_request_comments_request ON request_comments(request_id)"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func migrationV3(tx *sql.Tx) error {
	var count int
	err := tx.QueryRow("SELECT COUNT(*) FROM pragma_table_info('requests') WHERE name = 'version'").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to inspect requests columns: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := tx.Exec("ALTER TABLE requests ADD COLUMN version INTEGER NOT NULL DEFAULT 1"); err != nil {
		return fmt.Errorf("failed to add version column: %w", err)
	}
	return nil
}
