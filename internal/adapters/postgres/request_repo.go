package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/ports/secondary"
)

const requestColumns = `id, title, description, requester, approver, type, state, created_at, updated_at, version`

// RequestRepository implements secondary.RequestRepository with PostgreSQL.
type RequestRepository struct {
	db *sql.DB
}

// NewRequestRepository creates a new PostgreSQL request repository.
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create persists a new request and its initial history entries in one transaction.
func (r *RequestRepository) Create(ctx context.Context, record *secondary.RequestRecord) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO requests (`+requestColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`,
			record.ID,
			record.Title,
			record.Description,
			record.Requester,
			record.Approver,
			record.Type,
			record.State,
			record.CreatedAt.UTC(),
			record.UpdatedAt.UTC(),
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
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*secondary.RequestRecord, error) {
	// Anything that is not a UUID cannot be stored, and would fail the cast.
	if !request.ValidID(id) {
		return nil, request.NotFoundError(id)
	}

	var record *secondary.RequestRecord
	err := r.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		record, err = scanRequest(tx.QueryRowContext(ctx,
			`SELECT `+requestColumns+` FROM requests WHERE id = $1`, id,
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
	if !request.ValidID(update.ID) {
		return request.NotFoundError(update.ID)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var q queryBuilder
		set := []string{"updated_at = " + q.arg(update.UpdatedAt.UTC()), "version = version + 1"}
		if update.Title != nil {
			set = append(set, "title = "+q.arg(*update.Title))
		}
		if update.Description != nil {
			set = append(set, "description = "+q.arg(*update.Description))
		}
		if update.Type != nil {
			set = append(set, "type = "+q.arg(*update.Type))
		}

		query := "UPDATE requests SET " + strings.Join(set, ", ") +
			" WHERE id = " + q.arg(update.ID) + " AND version = " + q.arg(update.ExpectedVersion)

		result, err := tx.ExecContext(ctx, query, q.args...)
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
	if !request.ValidID(t.ID) {
		return request.NotFoundError(t.ID)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE requests SET state = $1, updated_at = $2, version = version + 1 WHERE id = $3 AND version = $4 AND state = $5`,
			t.ToState,
			t.UpdatedAt.UTC(),
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
	var q queryBuilder
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`

	if filters.State != "" {
		query += " AND state = " + q.arg(filters.State)
	}
	if filters.Type != "" {
		query += " AND type = " + q.arg(filters.Type)
	}
	if filters.Requester != "" {
		query += " AND requester = " + q.arg(filters.Requester)
	}
	if filters.Approver != "" {
		query += " AND approver = " + q.arg(filters.Approver)
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filters.Limit > 0 {
		query += " LIMIT " + q.arg(filters.Limit)
	}
	if filters.Offset > 0 {
		query += " OFFSET " + q.arg(filters.Offset)
	}

	var records []*secondary.RequestRecord
	err := r.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, q.args...)
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
	if !request.ValidID(id) {
		return request.NotFoundError(id)
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM requests WHERE id = $1", id)
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
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// readTx runs fn in a read-only snapshot so a request and its children
// are read as of the same commit.
func (r *RequestRepository) readTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// childBatchSize bounds the IN list of a single child query.
const childBatchSize = 1000

// loadChildren attaches history and comments to records with one query per
// child table and batch, ordered by timestamp then insertion sequence.
func loadChildren(ctx context.Context, tx *sql.Tx, records []*secondary.RequestRecord) error {
	byID := make(map[string]*secondary.RequestRecord, len(records))
	for _, record := range records {
		record.History = []*secondary.HistoryRecord{}
		record.Comments = []*secondary.CommentRecord{}
		byID[record.ID] = record
	}

	for start := 0; start < len(records); start += childBatchSize {
		batch := records[start:min(start+childBatchSize, len(records))]
		if err := loadHistory(ctx, tx, batch, byID); err != nil {
			return err
		}
		if err := loadComments(ctx, tx, batch, byID); err != nil {
			return err
		}
	}
	return nil
}

// inList renders "IN ($n, ...)" for the IDs of records.
func (q *queryBuilder) inList(records []*secondary.RequestRecord) string {
	params := make([]string, len(records))
	for i, record := range records {
		params[i] = q.arg(record.ID)
	}
	return "IN (" + strings.Join(params, ", ") + ")"
}

func loadHistory(ctx context.Context, tx *sql.Tx, batch []*secondary.RequestRecord, byID map[string]*secondary.RequestRecord) error {
	var q queryBuilder
	rows, err := tx.QueryContext(ctx,
		`SELECT seq, request_id, action, username, created_at, comment, prior_state FROM request_history WHERE request_id `+q.inList(batch)+` ORDER BY created_at ASC, seq ASC`,
		q.args...,
	)
	if err != nil {
		return fmt.Errorf("failed to get request history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var comment, priorState sql.NullString
		h := &secondary.HistoryRecord{}
		if err := rows.Scan(&h.Seq, &h.RequestID, &h.Action, &h.User, &h.Timestamp, &comment, &priorState); err != nil {
			return fmt.Errorf("failed to scan history: %w", err)
		}
		h.Timestamp = h.Timestamp.UTC()
		h.Comment = comment.String
		h.PriorState = priorState.String
		if record := byID[h.RequestID]; record != nil {
			record.History = append(record.History, h)
		}
	}
	return rows.Err()
}

func loadComments(ctx context.Context, tx *sql.Tx, batch []*secondary.RequestRecord, byID map[string]*secondary.RequestRecord) error {
	var q queryBuilder
	rows, err := tx.QueryContext(ctx,
		`SELECT seq, request_id, username, body, created_at, category FROM request_comments WHERE request_id `+q.inList(batch)+` ORDER BY created_at ASC, seq ASC`,
		q.args...,
	)
	if err != nil {
		return fmt.Errorf("failed to get request comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c := &secondary.CommentRecord{}
		if err := rows.Scan(&c.Seq, &c.RequestID, &c.User, &c.Text, &c.Timestamp, &c.Category); err != nil {
			return fmt.Errorf("failed to scan comment: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
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
	record := &secondary.RequestRecord{}
	err := row.Scan(
		&record.ID,
		&record.Title,
		&record.Description,
		&record.Requester,
		&record.Approver,
		&record.Type,
		&record.State,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.Version,
	)
	if err != nil {
		return nil, err
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
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

	err := tx.QueryRowContext(ctx,
		`INSERT INTO request_history (request_id, action, username, created_at, comment, prior_state) VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
		h.RequestID, h.Action, h.User, h.Timestamp.UTC(), comment, priorState,
	).Scan(&h.Seq)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func insertComment(ctx context.Context, tx *sql.Tx, c *secondary.CommentRecord) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO request_comments (request_id, username, body, created_at, category) VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		c.RequestID, c.User, c.Text, c.Timestamp.UTC(), c.Category,
	).Scan(&c.Seq)
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
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

	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check request existence: %w", err)
	}
	if !exists {
		return request.NotFoundError(id)
	}
	return fmt.Errorf("%w: %s", request.ErrConflict, id)
}

// queryBuilder numbers positional parameters as they are added.
type queryBuilder struct {
	args []any
}

func (q *queryBuilder) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// Ensure RequestRepository implements the interface
var _ secondary.RequestRepository = (*RequestRepository)(nil)
