package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every stored timestamp.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// SeedFixtures populates the database with development fixtures covering
// every state. Identifiers are fixed so the fixtures can be referenced in docs.
func SeedFixtures(database *sql.DB) error {
	base := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Minute)

	fixtures := []struct {
		id, title, description, requester, approver, typ, state string
		offset                                                  time.Duration
		comment                                                 string
	}{
		{"00000000-0000-4000-8000-000000000001", "Deploy billing v2", "Roll out billing service v2 to production", "jdoe", "asmith", "despliegue", "pending", 0, ""},
		{"00000000-0000-4000-8000-000000000002", "VPN access for on-call", "Grant VPN access for the on-call rotation", "mlopez", "asmith", "acceso", "in_review", 2 * time.Hour, ""},
		{"00000000-0000-4000-8000-000000000003", "Rotate database credentials", "Rotate the primary database credentials", "jdoe", "rgarcia", "cambio_tecnico", "approved", 4 * time.Hour, "Approved for the maintenance window"},
		{"00000000-0000-4000-8000-000000000004", "Add lint stage to pipeline", "Add a lint stage before the test stage", "kwong", "rgarcia", "pipeline", "rejected", 6 * time.Hour, "Lint already runs in pre-commit"},
		{"00000000-0000-4000-8000-000000000005", "Onboard new SRE", "Create accounts and access for the new SRE", "asmith", "jdoe", "incorporacion", "cancelled", 8 * time.Hour, ""},
	}

	tx, err := database.Begin()
	if err != nil {
		return fmt.Errorf("seed: begin: %w", err)
	}
	defer tx.Rollback()

	for _, f := range fixtures {
		created := base.Add(f.offset)
		decided := created.Add(30 * time.Minute)
		updated := created
		version := 1
		if f.state != "pending" {
			updated = decided
			version = 2
		}

		if _, err := tx.Exec(
			"INSERT INTO requests (id, title, description, requester, approver, type, state, created_at, updated_at, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			f.id, f.title, f.description, f.requester, f.approver, f.typ, f.state, FormatTime(created), FormatTime(updated), version,
		); err != nil {
			return fmt.Errorf("seed requests: %w", err)
		}

		if _, err := tx.Exec(
			"INSERT INTO request_history (request_id, action, username, created_at, comment) VALUES (?, 'created', ?, ?, 'Request created')",
			f.id, f.requester, FormatTime(created),
		); err != nil {
			return fmt.Errorf("seed history: %w", err)
		}

		if f.state == "pending" {
			continue
		}

		historyComment := f.comment
		if historyComment == "" {
			historyComment = "Request " + f.state
		}
		if _, err := tx.Exec(
			"INSERT INTO request_history (request_id, action, username, created_at, comment, prior_state) VALUES (?, ?, ?, ?, ?, 'pending')",
			f.id, f.state, f.approver, FormatTime(decided), historyComment,
		); err != nil {
			return fmt.Errorf("seed history: %w", err)
		}

		if f.comment != "" {
			if _, err := tx.Exec(
				"INSERT INTO request_comments (request_id, username, body, created_at, category) VALUES (?, ?, ?, ?, ?)",
				f.id, f.approver, f.comment, FormatTime(decided), f.state,
			); err != nil {
				return fmt.Errorf("seed comments: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed: commit: %w", err)
	}
	return nil
}
