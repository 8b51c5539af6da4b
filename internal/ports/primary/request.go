// Package primary defines the primary ports (driving adapters) for the application.
package primary

import (
	"context"
	"time"
)

// RequestService defines the primary port for approval-request operations.
// Errors match the sentinels in internal/core/request via errors.Is.
type RequestService interface {
	// CreateRequest files a new request in the pending state and notifies the approver.
	CreateRequest(ctx context.Context, req CreateRequestRequest) (*Request, error)

	// GetRequest retrieves a request with its full history and comments.
	GetRequest(ctx context.Context, id string) (*Request, error)

	// UpdateRequest edits title, description or type. It never changes state.
	UpdateRequest(ctx context.Context, req UpdateRequestRequest) (*Request, error)

	// TransitionRequest moves a request to a new state and notifies the requester.
	TransitionRequest(ctx context.Context, req TransitionRequestRequest) (*Request, error)

	// ApproveRequest transitions a request to approved.
	ApproveRequest(ctx context.Context, id, actor, comment string) (*Request, error)

	// RejectRequest transitions a request to rejected.
	// An empty comment is replaced by a standard rejection note.
	RejectRequest(ctx context.Context, id, actor, comment string) (*Request, error)

	// CancelRequest transitions a request to cancelled.
	CancelRequest(ctx context.Context, id, actor, comment string) (*Request, error)

	// StartReview transitions a pending request to in_review.
	StartReview(ctx context.Context, id, actor, comment string) (*Request, error)

	// ListRequests lists requests matching all given filters, newest first.
	// Each request carries its full history and comments.
	ListRequests(ctx context.Context, filters RequestFilters) ([]*Request, error)

	// ListRequestsByUser lists the requests a user filed or must decide on.
	ListRequestsByUser(ctx context.Context, user string, role UserRole) ([]*Request, error)

	// GetStats returns total and per-state counts.
	GetStats(ctx context.Context) (*Stats, error)

	// GetDashboard returns stats plus the most recently created requests.
	GetDashboard(ctx context.Context, recent int) (*Dashboard, error)

	// DeleteRequest removes a request together with its history and comments.
	DeleteRequest(ctx context.Context, id string) error
}

// CreateRequestRequest contains parameters for filing a request.
type CreateRequestRequest struct {
	Title       string
	Description string
	Requester   string
	Approver    string
	Type        string
}

// UpdateRequestRequest contains parameters for editing request metadata.
// Nil fields are left unchanged.
type UpdateRequestRequest struct {
	ID          string
	Title       *string
	Description *string
	Type        *string
	Actor       string
}

// TransitionRequestRequest contains parameters for a state change.
type TransitionRequestRequest struct {
	ID       string
	NewState string
	Actor    string
	Comment  string
}

// RequestFilters contains conjunctive filter options for listing requests.
// Empty fields match everything. Limit <= 0 means no limit.
type RequestFilters struct {
	State     string
	Type      string
	Requester string
	Approver  string
	Limit     int
	Offset    int
}

// UserRole selects which side of a request a user is on.
type UserRole string

const (
	RoleRequester UserRole = "requester"
	RoleApprover  UserRole = "approver"
)

// Request is the public view of an approval request.
// The JSON form is the request view served by the HTTP API and `--json`.
type Request struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"` // human-readable display code, not unique
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Requester   string         `json:"requester"`
	Approver    string         `json:"approver"`
	Type        string         `json:"type"`
	TypeLabel   string         `json:"type_label"`
	State       string         `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int64          `json:"version"`
	History     []HistoryEntry `json:"history"`
	Comments    []Comment      `json:"comments"`
}

// IsTerminal reports whether the request can no longer change state.
func (r *Request) IsTerminal() bool {
	switch r.State {
	case "approved", "rejected", "cancelled":
		return true
	}
	return false
}

// HistoryEntry is the public view of one audit record.
type HistoryEntry struct {
	Action     string    `json:"action"`
	User       string    `json:"user"`
	Timestamp  time.Time `json:"timestamp"`
	Comment    string    `json:"comment"`
	PriorState string    `json:"prior_state"`
}

// Comment is the public view of a comment attached to a request.
type Comment struct {
	User      string    `json:"user"`
	Text      string    `json:"comment"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
}

// Stats holds request counts. The per-state counts always sum to Total.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InReview  int `json:"in_review"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Cancelled int `json:"cancelled"`
}

// Dashboard combines stats with the most recent requests.
type Dashboard struct {
	Stats  Stats      `json:"stats"`
	Recent []*Request `json:"recent"`
}
