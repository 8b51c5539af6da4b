package secondary

import (
	"context"
	"time"
)

// RequestRepository defines the secondary port for approval-request persistence.
//
// Every mutating method is one atomic unit: either the request row, its
// history entry and its optional comment are all written, or none are.
// Update and ApplyTransition are compare-and-swap operations keyed on the
// version the caller read; a stale version yields request.ErrConflict.
// A missing request yields request.ErrNotFound.
type RequestRepository interface {
	// Create persists a new request and its initial history entries.
	Create(ctx context.Context, record *RequestRecord) error

	// GetByID retrieves a request with history and comments in insertion order.
	GetByID(ctx context.Context, id string) (*RequestRecord, error)

	// Update applies a metadata edit and appends its history entry.
	Update(ctx context.Context, update *RequestUpdate) error

	// ApplyTransition changes state and appends the history entry and optional comment.
	ApplyTransition(ctx context.Context, transition *TransitionRecord) error

	// List retrieves requests matching the filters, newest first.
	// History and Comments are left empty.
	List(ctx context.Context, filters RequestFilters) ([]*RequestRecord, error)

	// Stats counts requests per state.
	Stats(ctx context.Context) (*StatsRecord, error)

	// Delete removes a request, cascading to its history and comments.
	Delete(ctx context.Context, id string) error
}

// RequestRecord represents a request as stored in persistence.
type RequestRecord struct {
	ID          string
	Title       string
	Description string
	Requester   string
	Approver    string
	Type        string
	State       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
	History     []*HistoryRecord
	Comments    []*CommentRecord
}

// HistoryRecord represents one audit entry as stored in persistence.
type HistoryRecord struct {
	Seq        int64 // assigned by the store
	RequestID  string
	Action     string
	User       string
	Timestamp  time.Time
	Comment    string // Empty string means null
	PriorState string // Empty string means null
}

// CommentRecord represents a comment as stored in persistence.
type CommentRecord struct {
	Seq       int64 // assigned by the store
	RequestID string
	User      string
	Text      string
	Timestamp time.Time
	Category  string
}

// RequestUpdate describes a metadata edit. Nil fields are left unchanged.
type RequestUpdate struct {
	ID              string
	ExpectedVersion int64
	Title           *string
	Description     *string
	Type            *string
	UpdatedAt       time.Time
	History         *HistoryRecord
}

// TransitionRecord describes a state change to persist.
type TransitionRecord struct {
	ID              string
	ExpectedVersion int64
	FromState       string
	ToState         string
	UpdatedAt       time.Time
	History         *HistoryRecord
	Comment         *CommentRecord // nil when no comment was given
}

// RequestFilters contains filter options for querying requests.
type RequestFilters struct {
	State     string
	Type      string
	Requester string
	Approver  string
	Limit     int
	Offset    int
}

// StatsRecord holds per-state counts keyed by state value.
type StatsRecord struct {
	Total   int
	ByState map[string]int
}
