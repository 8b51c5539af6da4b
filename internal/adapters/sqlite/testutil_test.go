// Package sqlite_test contains integration tests for SQLite repositories.
//
// # Schema Protection
//
// This file is the SINGLE POINT where the database schema is loaded for tests.
// All test setup functions use db.GetSchemaSQL() to ensure tests run against
// the authoritative schema, preventing drift between test and production.
//
// DO NOT hardcode CREATE TABLE statements in test files. Use setupTestDB(),
// newRequestRecord and seedRequest instead.
package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/approvals/internal/db"
	"github.com/example/approvals/internal/ports/secondary"
)

// setupTestDB creates an in-memory database with the authoritative schema.
// The pool is pinned to one connection: every new :memory: connection
// would otherwise see its own empty database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	testDB.SetMaxOpenConns(1)

	if _, err := testDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	// Use the authoritative schema from schema.go
	if _, err := testDB.Exec(db.GetSchemaSQL()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}

var baseTime = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

// newRequestRecord builds a pending request record with its creation history entry.
func newRequestRecord(id, requester, approver, typ string, createdAt time.Time) *secondary.RequestRecord {
	return &secondary.RequestRecord{
		ID:          id,
		Title:       "Deploy billing v2",
		Description: "Roll out billing service v2 to production",
		Requester:   requester,
		Approver:    approver,
		Type:        typ,
		State:       "pending",
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		History: []*secondary.HistoryRecord{
			{Action: "created", User: requester, Timestamp: createdAt, Comment: "Request created"},
		},
	}
}

// seedRequest inserts a pending request through the repository and returns it.
func seedRequest(t *testing.T, repo secondary.RequestRepository, id string, createdAt time.Time) *secondary.RequestRecord {
	t.Helper()
	record := newRequestRecord(id, "jdoe", "asmith", "despliegue", createdAt)
	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("failed to seed request %s: %v", id, err)
	}
	return record
}

// countRows returns the number of rows in table for the given request.
func countRows(t *testing.T, database *sql.DB, table, requestID string) int {
	t.Helper()
	var n int
	if err := database.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE request_id = ?", requestID).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}
