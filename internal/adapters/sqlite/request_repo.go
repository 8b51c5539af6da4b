// Package sqlite contains SQLite implementations of repository interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/db"
	"github.com/example/approvals/internal/ports/secondary"
)

const requestColumns = `id, title, description, requester, approver, type, state, created_at, updated_at, version`

// RequestRepository implements secondary.RequestRepository with SQLite.
type RequestRepository struct {
	db *sql.DB
}

// NewRequestRepository creates a new SQLite request repository.
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create persists a new request and its initial history entries in one transaction.
func (r *RequestRepository) Create(ctx context.Context, record *secondary.RequestRecord) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			record.ID,
			record.Title,
			record.Description,
			record.Requester,
			record.Approver,
			record.Type,
			record.State,
			db.FormatTime(record.CreatedAt),
			db.FormatTime(record.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		for _, h := range record.History {
			h.RequestID = record.ID
			if err := insertHistory(ctx, tx, h); err != nil {
				return err
			}
		}
		for _, c := range record.Comments {
			c.RequestID = record.ID
			if err := insertComment(ctx, tx, c); err != nil {
				return err
			}
		}

		record.Version = 1
		return nil
	})
}

// GetByID retrieves a request with its history and comments.
// All three reads share one transaction so a concurrent transition is seen
// either completely or not at all.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*secondary.RequestRecord, error) {
	var record *secondary.RequestRecord
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		record, err = scanRequest(tx.QueryRowContext(ctx,
			`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return request.NotFoundError(id)
		}
		if err != nil {
			return fmt.Errorf("failed to get request: %w", err)
		}
		return loadChildren(ctx, tx, []*secondary.RequestRecord{record})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update applies a metadata edit guarded by the expected version.
func (r *RequestRepository) Update(ctx context.Context, update *secondary.RequestUpdate) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := "UPDATE requests SET updated_at = ?, version = version + 1"
		args := []any{db.FormatTime(update.UpdatedAt)}

		if update.Title != nil {
			query += ", title = ?"
			args = append(args, *update.Title)
		}
		if update.Description != nil {
			query += ", description = ?"
			args = append(args, *update.Description)
		}
		if update.Type != nil {
			query += ", type = ?"
			args = append(args, *update.Type)
		}

		query += " WHERE id = ? AND version = ?"
		args = append(args, update.ID, update.ExpectedVersion)

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update request: %w", err)
		}
		if err := checkSwapped(ctx, tx, result, update.ID); err != nil {
			return err
		}

		if update.History != nil {
			update.History.RequestID = update.ID
			return insertHistory(ctx, tx, update.History)
		}
		return nil
	})
}

// ApplyTransition changes state guarded by the expected version and prior state.
func (r *RequestRepository) ApplyTransition(ctx context.Context, t *secondary.TransitionRecord) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE requests SET state = ?, updated_at = ?, version = version + 1 WHERE id = ? AND version = ? AND state = ?`,
			t.ToState,
			db.FormatTime(t.UpdatedAt),
			t.ID,
			t.ExpectedVersion,
			t.FromState,
		)
		if err != nil {
			return fmt.Errorf("failed to update request state: %w", err)
		}
		if err := checkSwapped(ctx, tx, result, t.ID); err != nil {
			return err
		}

		if t.History != nil {
			t.History.RequestID = t.ID
			if err := insertHistory(ctx, tx, t.History); err != nil {
				return err
			}
		}
		if t.Comment != nil {
			t.Comment.RequestID = t.ID
			if err := insertComment(ctx, tx, t.Comment); err != nil {
				return err
			}
		}
		return nil
	})
}

// List retrieves requests matching the given filters, newest first,
// each with its history and comments.
func (r *RequestRepository) List(ctx context.Context, filters secondary.RequestFilters) ([]*secondary.RequestRecord, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	args := []any{}

	if filters.State != "" {
		query += " AND state = ?"
		args = append(args, filters.State)
	}
	if filters.Type != "" {
		query += " AND type = ?"
		args = append(args, filters.Type)
	}
	if filters.Requester != "" {
		query += " AND requester = ?"
		args = append(args, filters.Requester)
	}
	if filters.Approver != "" {
		query += " AND approver = ?"
		args = append(args, filters.Approver)
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if filters.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filters.Limit, filters.Offset)
	} else if filters.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filters.Offset)
	}

	var records []*secondary.RequestRecord
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list requests: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanRequest(rows)
			if err != nil {
				return fmt.Errorf("failed to scan request: %w", err)
			}
			records = append(records, record)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to list requests: %w", err)
		}
		rows.Close()

		return loadChildren(ctx, tx, records)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Stats counts requests per state with a single grouped query.
func (r *RequestRepository) Stats(ctx context.Context) (*secondary.StatsRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM requests GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	defer rows.Close()

	stats := &secondary.StatsRecord{ByState: make(map[string]int)}
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.ByState[state] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}

	return stats, nil
}

// Delete removes a request. History and comments go with it via ON DELETE CASCADE.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return request.NotFoundError(id)
	}

	return nil
}

func (r *RequestRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// childBatchSize keeps each IN list well below SQLite's bound-parameter limit.
const childBatchSize = 500

// loadChildren attaches history and comments to records with one query per
// child table and batch, ordered by timestamp then insertion sequence.
func loadChildren(ctx context.Context, tx *sql.Tx, records []*secondary.RequestRecord) error {
	byID := make(map[string]*secondary.RequestRecord, len(records))
	ids := make([]any, 0, len(records))
	for _, record := range records {
		record.History = []*secondary.HistoryRecord{}
		record.Comments = []*secondary.CommentRecord{}
		byID[record.ID] = record
		ids = append(ids, record.ID)
	}

	for start := 0; start < len(ids); start += childBatchSize {
		batch := ids[start:min(start+childBatchSize, len(ids))]
		if err := loadHistory(ctx, tx, batch, byID); err != nil {
			return err
		}
		if err := loadComments(ctx, tx, batch, byID); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func loadHistory(ctx context.Context, tx *sql.Tx, ids []any, byID map[string]*secondary.RequestRecord) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT seq, request_id, action, username, created_at, comment, prior_state FROM request_history WHERE request_id IN (`+placeholders(len(ids))+`) ORDER BY created_at ASC, seq ASC`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("failed to get request history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			comment    sql.NullString
			priorState sql.NullString
			createdAt  string
		)
		h := &secondary.HistoryRecord{}
		if err := rows.Scan(&h.Seq, &h.RequestID, &h.Action, &h.User, &createdAt, &comment, &priorState); err != nil {
			return fmt.Errorf("failed to scan history: %w", err)
		}
		if h.Timestamp, err = db.ParseTime(createdAt); err != nil {
			return err
		}
		h.Comment = comment.String
		h.PriorState = priorState.String
		if record := byID[h.RequestID]; record != nil {
			record.History = append(record.History, h)
		}
	}
	return rows.Err()
}

func loadComments(ctx context.Context, tx *sql.Tx, ids []any, byID map[string]*secondary.RequestRecord) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT seq, request_id, username, body, created_at, category FROM request_comments WHERE request_id IN (`+placeholders(len(ids))+`) ORDER BY created_at ASC, seq ASC`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("failed to get request comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var createdAt string
		c := &secondary.CommentRecord{}
		if err := rows.Scan(&c.Seq, &c.RequestID, &c.User, &c.Text, &createdAt, &c.Category); err != nil {
			return fmt.Errorf("failed to scan comment: %w", err)
		}
		if c.Timestamp, err = db.ParseTime(createdAt); err != nil {
			return err
		}
		if record := byID[c.RequestID]; record != nil {
			record.Comments = append(record.Comments, c)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*secondary.RequestRecord, error) {
	var createdAt, updatedAt string
	record := &secondary.RequestRecord{}
	err := row.Scan(
		&record.ID,
		&record.Title,
		&record.Description,
		&record.Requester,
		&record.Approver,
		&record.Type,
		&record.State,
		&createdAt,
		&updatedAt,
		&record.Version,
	)
	if err != nil {
		return nil, err
	}
	if record.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if record.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return record, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, h *secondary.HistoryRecord) error {
	var comment, priorState sql.NullString
	if h.Comment != "" {
		comment = sql.NullString{String: h.Comment, Valid: true}
	}
	if h.PriorState != "" {
		priorState = sql.NullString{String: h.PriorState, Valid: true}
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO request_history (request_id, action, username, created_at, comment, prior_state) VALUES (?, ?, ?, ?, ?, ?)`,
		h.RequestID, h.Action, h.User, db.FormatTime(h.Timestamp), comment, priorState,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	h.Seq, _ = result.LastInsertId()
	return nil
}

func insertComment(ctx context.Context, tx *sql.Tx, c *secondary.CommentRecord) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO request_comments (request_id, username, body, created_at, category) VALUES (?, ?, ?, ?, ?)`,
		c.RequestID, c.User, c.Text, db.FormatTime(c.Timestamp), c.Category,
	)
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	c.Seq, _ = result.LastInsertId()
	return nil
}

// checkSwapped turns a zero-row compare-and-swap update into ErrNotFound or ErrConflict.
func checkSwapped(ctx context.Context, tx *sql.Tx, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests WHERE id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check request existence: %w", err)
	}
	if count == 0 {
		return request.NotFoundError(id)
	}
	return fmt.Errorf("%w: %s", request.ErrConflict, id)
}

// Ensure RequestRepository implements the interface
var _ secondary.RequestRepository = (*RequestRepository)(nil)
