// Package redis implements the request repository on Redis.
//
// Layout, under a configurable prefix:
//
//	<prefix>request:<id>  JSON document with history and comments
//	<prefix>index         ZSET of ids scored by creation time (microseconds)
//	<prefix>seq           counter for history and comment sequence numbers
//
// Writes run under WATCH on the request key; a concurrent writer aborts the
// MULTI block, which surfaces as request.ErrConflict. List and Stats both
// read the documents named by the index, so counts cannot drift from lists.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/ports/secondary"
)

const defaultPrefix = "approvals:"

// RequestRepository implements secondary.RequestRepository using Redis.
type RequestRepository struct {
	client *backend.Client
	prefix string
}

// Option configures a RequestRepository.
type Option func(*RequestRepository)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *RequestRepository) {
		r.prefix = prefix
	}
}

// New creates a repository with its own client.
func New(address, password string, db int, opts ...Option) *RequestRepository {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a repository from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *RequestRepository {
	r := &RequestRepository{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks connectivity.
func (r *RequestRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (r *RequestRepository) Close() error {
	return r.client.Close()
}

func (r *RequestRepository) key(id string) string {
	return r.prefix + "request:" + id
}

func (r *RequestRepository) indexKey() string {
	return r.prefix + "index"
}

func (r *RequestRepository) seqKey() string {
	return r.prefix + "seq"
}

// document is the stored form of a request.
type document struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Requester   string            `json:"requester"`
	Approver    string            `json:"approver"`
	Type        string            `json:"type"`
	State       string            `json:"state"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Version     int64             `json:"version"`
	History     []historyDocument `json:"history"`
	Comments    []commentDocument `json:"comments"`
}

type historyDocument struct {
	Seq        int64     `json:"seq"`
	Action     string    `json:"action"`
	User       string    `json:"user"`
	Timestamp  time.Time `json:"timestamp"`
	Comment    string    `json:"comment,omitempty"`
	PriorState string    `json:"prior_state,omitempty"`
}

type commentDocument struct {
	Seq       int64     `json:"seq"`
	User      string    `json:"user"`
	Text      string    `json:"comment"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
}

func (r *RequestRepository) Create(ctx context.Context, record *secondary.RequestRecord) error {
	key := r.key(record.ID)

	err := r.client.Watch(ctx, func(tx *backend.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check request: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("failed to create request: id %s already exists", record.ID)
		}

		doc := document{
			ID:          record.ID,
			Title:       record.Title,
			Description: record.Description,
			Requester:   record.Requester,
			Approver:    record.Approver,
			Type:        record.Type,
			State:       record.State,
			CreatedAt:   record.CreatedAt.UTC(),
			UpdatedAt:   record.UpdatedAt.UTC(),
			Version:     1,
		}
		for _, h := range record.History {
			if h.Seq, err = r.nextSeq(ctx, tx); err != nil {
				return err
			}
			h.RequestID = record.ID
			doc.History = append(doc.History, toHistoryDocument(h))
		}
		for _, c := range record.Comments {
			if c.Seq, err = r.nextSeq(ctx, tx); err != nil {
				return err
			}
			c.RequestID = record.ID
			doc.Comments = append(doc.Comments, toCommentDocument(c))
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, r.indexKey(), backend.Z{
				Score:  float64(doc.CreatedAt.UnixMicro()),
				Member: doc.ID,
			})
			return nil
		})
		return err
	}, key)
	if err := r.txError(err, record.ID); err != nil {
		return err
	}

	record.Version = 1
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*secondary.RequestRecord, error) {
	doc, err := r.get(ctx, r.client, id)
	if err != nil {
		return nil, err
	}
	return toRecord(doc), nil
}

func (r *RequestRepository) Update(ctx context.Context, update *secondary.RequestUpdate) error {
	return r.swap(ctx, update.ID, func(tx *backend.Tx, doc *document) error {
		if doc.Version != update.ExpectedVersion {
			return fmt.Errorf("%w: %s", request.ErrConflict, update.ID)
		}
		if update.Title != nil {
			doc.Title = *update.Title
		}
		if update.Description != nil {
			doc.Description = *update.Description
		}
		if update.Type != nil {
			doc.Type = *update.Type
		}
		doc.UpdatedAt = update.UpdatedAt.UTC()
		if update.History != nil {
			seq, err := r.nextSeq(ctx, tx)
			if err != nil {
				return err
			}
			update.History.Seq, update.History.RequestID = seq, update.ID
			doc.History = append(doc.History, toHistoryDocument(update.History))
		}
		return nil
	})
}

func (r *RequestRepository) ApplyTransition(ctx context.Context, t *secondary.TransitionRecord) error {
	return r.swap(ctx, t.ID, func(tx *backend.Tx, doc *document) error {
		if doc.Version != t.ExpectedVersion || doc.State != t.FromState {
			return fmt.Errorf("%w: %s", request.ErrConflict, t.ID)
		}
		doc.State = t.ToState
		doc.UpdatedAt = t.UpdatedAt.UTC()
		if t.History != nil {
			seq, err := r.nextSeq(ctx, tx)
			if err != nil {
				return err
			}
			t.History.Seq, t.History.RequestID = seq, t.ID
			doc.History = append(doc.History, toHistoryDocument(t.History))
		}
		if t.Comment != nil {
			seq, err := r.nextSeq(ctx, tx)
			if err != nil {
				return err
			}
			t.Comment.Seq, t.Comment.RequestID = seq, t.ID
			doc.Comments = append(doc.Comments, toCommentDocument(t.Comment))
		}
		return nil
	})
}

// swap loads the document under WATCH, lets mutate edit it, and writes it
// back in one MULTI block.
func (r *RequestRepository) swap(ctx context.Context, id string, mutate func(tx *backend.Tx, doc *document) error) error {
	key := r.key(id)

	err := r.client.Watch(ctx, func(tx *backend.Tx) error {
		doc, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(tx, doc); err != nil {
			return err
		}
		doc.Version++

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	return r.txError(err, id)
}

// List reads the documents named by the index, newest first, each with
// its history and comments.
func (r *RequestRepository) List(ctx context.Context, filters secondary.RequestFilters) ([]*secondary.RequestRecord, error) {
	docs, err := r.indexed(ctx)
	if err != nil {
		return nil, err
	}

	var records []*secondary.RequestRecord
	skipped := 0
	for _, doc := range docs {
		if !matches(doc, filters) {
			continue
		}
		if skipped < filters.Offset {
			skipped++
			continue
		}
		records = append(records, toRecord(doc))
		if filters.Limit > 0 && len(records) == filters.Limit {
			break
		}
	}
	return records, nil
}

// Stats counts the same documents List reads.
func (r *RequestRepository) Stats(ctx context.Context) (*secondary.StatsRecord, error) {
	docs, err := r.indexed(ctx)
	if err != nil {
		return nil, err
	}

	stats := &secondary.StatsRecord{Total: len(docs), ByState: make(map[string]int)}
	for _, doc := range docs {
		stats.ByState[doc.State]++
	}
	return stats, nil
}

// indexed loads every document in the index, newest first. Index entries
// whose document is gone are skipped.
func (r *RequestRepository) indexed(ctx context.Context) ([]*document, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load requests: %w", err)
	}

	docs := make([]*document, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var doc document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	key := r.key(id)

	err := r.client.Watch(ctx, func(tx *backend.Tx) error {
		if _, err := r.get(ctx, tx, id); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, r.indexKey(), id)
			return nil
		})
		return err
	}, key)
	return r.txError(err, id)
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

func (r *RequestRepository) get(ctx context.Context, c getter, id string) (*document, error) {
	val, err := c.Get(ctx, r.key(id)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, request.NotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	var doc document
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return &doc, nil
}

func (r *RequestRepository) nextSeq(ctx context.Context, tx *backend.Tx) (int64, error) {
	seq, err := tx.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return seq, nil
}

// txError maps an aborted MULTI to ErrConflict.
func (r *RequestRepository) txError(err error, id string) error {
	if errors.Is(err, backend.TxFailedErr) {
		return fmt.Errorf("%w: %s", request.ErrConflict, id)
	}
	return err
}

func matches(doc *document, f secondary.RequestFilters) bool {
	if f.State != "" && doc.State != f.State {
		return false
	}
	if f.Type != "" && doc.Type != f.Type {
		return false
	}
	if f.Requester != "" && doc.Requester != f.Requester {
		return false
	}
	if f.Approver != "" && doc.Approver != f.Approver {
		return false
	}
	return true
}

func toHistoryDocument(h *secondary.HistoryRecord) historyDocument {
	return historyDocument{
		Seq:        h.Seq,
		Action:     h.Action,
		User:       h.User,
		Timestamp:  h.Timestamp.UTC(),
		Comment:    h.Comment,
		PriorState: h.PriorState,
	}
}

func toCommentDocument(c *secondary.CommentRecord) commentDocument {
	return commentDocument{
		Seq:       c.Seq,
		User:      c.User,
		Text:      c.Text,
		Timestamp: c.Timestamp.UTC(),
		Category:  c.Category,
	}
}

// toRecord converts a document. History and comments come back ascending
// by timestamp, ties broken by sequence, whatever order they were appended in.
func toRecord(doc *document) *secondary.RequestRecord {
	record := &secondary.RequestRecord{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		Requester:   doc.Requester,
		Approver:    doc.Approver,
		Type:        doc.Type,
		State:       doc.State,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		Version:     doc.Version,
		History:     make([]*secondary.HistoryRecord, 0, len(doc.History)),
		Comments:    make([]*secondary.CommentRecord, 0, len(doc.Comments)),
	}

	for _, h := range doc.History {
		record.History = append(record.History, &secondary.HistoryRecord{
			Seq:        h.Seq,
			RequestID:  doc.ID,
			Action:     h.Action,
			User:       h.User,
			Timestamp:  h.Timestamp,
			Comment:    h.Comment,
			PriorState: h.PriorState,
		})
	}
	for _, c := range doc.Comments {
		record.Comments = append(record.Comments, &secondary.CommentRecord{
			Seq:       c.Seq,
			RequestID: doc.ID,
			User:      c.User,
			Text:      c.Text,
			Timestamp: c.Timestamp,
			Category:  c.Category,
		})
	}

	sort.SliceStable(record.History, func(i, j int) bool {
		a, b := record.History[i], record.History[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})
	sort.SliceStable(record.Comments, func(i, j int) bool {
		a, b := record.Comments[i], record.Comments[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})
	return record
}

// Ensure RequestRepository implements the interface
var _ secondary.RequestRepository = (*RequestRepository)(nil)
