package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/approvals/internal/core/notification"
	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/ctxutil"
	"github.com/example/approvals/internal/logging"
	"github.com/example/approvals/internal/metrics"
	"github.com/example/approvals/internal/ports/primary"
	"github.com/example/approvals/internal/ports/secondary"
)

// DefaultConflictRetries bounds how often a write is retried after a concurrent modification.
const DefaultConflictRetries = 3

// DefaultDashboardSize is the number of recent requests shown on the dashboard.
const DefaultDashboardSize = 10

// RejectionDefaultComment is recorded when a request is rejected without a comment.
const RejectionDefaultComment = "Request rejected without comments"

// Notification kinds, used as log attributes and metric labels.
const (
	notifyNewRequest   = "new_request"
	notifyStateChanged = "state_changed"
)

// RequestServiceImpl implements the RequestService interface.
type RequestServiceImpl struct {
	repo       secondary.RequestRepository
	notifier   secondary.Notifier
	book       notification.AddressBook
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
	maxRetries int
}

// RequestServiceOption configures optional RequestService dependencies.
type RequestServiceOption func(*RequestServiceImpl)

// WithAddressBook sets the mail domains used for notifications.
func WithAddressBook(book notification.AddressBook) RequestServiceOption {
	return func(s *RequestServiceImpl) { s.book = book }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) RequestServiceOption {
	return func(s *RequestServiceImpl) { s.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) RequestServiceOption {
	return func(s *RequestServiceImpl) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RequestServiceOption {
	return func(s *RequestServiceImpl) { s.now = now }
}

// WithIDGenerator overrides request identifier generation.
func WithIDGenerator(newID func() string) RequestServiceOption {
	return func(s *RequestServiceImpl) { s.newID = newID }
}

// WithConflictRetries sets the number of retries after ErrConflict.
func WithConflictRetries(n int) RequestServiceOption {
	return func(s *RequestServiceImpl) { s.maxRetries = n }
}

// NewRequestService creates a new RequestService with injected dependencies.
// notifier may be nil, in which case no notifications are sent.
func NewRequestService(repo secondary.RequestRepository, notifier secondary.Notifier, opts ...RequestServiceOption) *RequestServiceImpl {
	s := &RequestServiceImpl{
		repo:       repo,
		notifier:   notifier,
		book:       notification.DefaultAddressBook(),
		logger:     logging.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      request.NewID,
		maxRetries: DefaultConflictRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest files a new request in the pending state.
func (s *RequestServiceImpl) CreateRequest(ctx context.Context, req primary.CreateRequestRequest) (*primary.Request, error) {
	plan, err := request.PlanCreate(request.CreateRequestContext{
		Title:       req.Title,
		Description: req.Description,
		Requester:   req.Requester,
		Approver:    req.Approver,
		Type:        request.Type(strings.TrimSpace(req.Type)),
	}, s.newID(), s.now())
	if err != nil {
		return nil, err
	}

	record := &secondary.RequestRecord{
		ID:          plan.ID,
		Title:       plan.Title,
		Description: plan.Description,
		Requester:   plan.Requester,
		Approver:    plan.Approver,
		Type:        string(plan.Type),
		State:       string(plan.State),
		CreatedAt:   plan.CreatedAt,
		UpdatedAt:   plan.UpdatedAt,
		History:     []*secondary.HistoryRecord{historyRecord(plan.History)},
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	s.metrics.RequestCreated(record.Type)
	s.logger.Info("request created",
		"request_id", record.ID,
		"type", record.Type,
		"requester", record.Requester,
		"approver", record.Approver,
	)

	s.notify(ctx, notifyNewRequest, notification.NewRequest(s.book, subjectOf(record)))

	created, err := s.repo.GetByID(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch created request: %w", err)
	}
	return recordToRequest(created)
}

// GetRequest retrieves a request with its history and comments.
func (s *RequestServiceImpl) GetRequest(ctx context.Context, id string) (*primary.Request, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return recordToRequest(record)
}

// UpdateRequest edits title, description or type and appends an updated history entry.
func (s *RequestServiceImpl) UpdateRequest(ctx context.Context, req primary.UpdateRequestRequest) (*primary.Request, error) {
	fields := request.FieldUpdate{
		Title:       req.Title,
		Description: req.Description,
	}
	if req.Type != nil {
		t := request.Type(strings.TrimSpace(*req.Type))
		fields.Type = &t
	}

	plan, err := request.PlanUpdate(fields, s.actor(ctx, req.Actor), s.now())
	if err != nil {
		return nil, err
	}

	update := &secondary.RequestUpdate{
		ID:          req.ID,
		Title:       plan.Fields.Title,
		Description: plan.Fields.Description,
		UpdatedAt:   plan.UpdatedAt,
		History:     historyRecord(plan.History),
	}
	if plan.Fields.Type != nil {
		t := string(*plan.Fields.Type)
		update.Type = &t
	}

	err = s.withConflictRetry(ctx, req.ID, func(current *secondary.RequestRecord) error {
		update.ExpectedVersion = current.Version
		return s.repo.Update(ctx, update)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("request updated", "request_id", req.ID, "actor", plan.History.User)

	updated, err := s.repo.GetByID(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch updated request: %w", err)
	}
	return recordToRequest(updated)
}

// TransitionRequest validates and applies a state change, then notifies the requester.
// A write that loses a race is re-validated against the fresh state, so the
// loser of two racing terminal transitions gets ErrInvalidTransition.
func (s *RequestServiceImpl) TransitionRequest(ctx context.Context, req primary.TransitionRequestRequest) (*primary.Request, error) {
	target := request.State(strings.TrimSpace(req.NewState))
	actor := s.actor(ctx, req.Actor)

	var plan *request.TransitionPlan
	err := s.withConflictRetry(ctx, req.ID, func(current *secondary.RequestRecord) error {
		state, err := request.ParseState(current.State)
		if err != nil {
			return fmt.Errorf("request %s has corrupt state: %w", current.ID, err)
		}

		plan, err = request.PlanTransition(state, target, actor, req.Comment, s.now())
		if err != nil {
			return err
		}

		record := &secondary.TransitionRecord{
			ID:              current.ID,
			ExpectedVersion: current.Version,
			FromState:       string(plan.PriorState),
			ToState:         string(plan.NewState),
			UpdatedAt:       plan.UpdatedAt,
			History:         historyRecord(plan.History),
		}
		if plan.Comment != nil {
			record.Comment = &secondary.CommentRecord{
				User:      plan.Comment.User,
				Text:      plan.Comment.Text,
				Timestamp: plan.Comment.Timestamp,
				Category:  string(plan.Comment.Category),
			}
		}
		return s.repo.ApplyTransition(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitioned(string(plan.PriorState), string(plan.NewState))
	s.logger.Info("request transitioned",
		"request_id", req.ID,
		"from", plan.PriorState,
		"to", plan.NewState,
		"actor", actor,
	)

	updated, err := s.repo.GetByID(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transitioned request: %w", err)
	}

	comment := ""
	if plan.Comment != nil {
		comment = plan.Comment.Text
	}
	s.notify(ctx, notifyStateChanged, notification.StateChanged(s.book, subjectOf(updated), actor, comment))

	return recordToRequest(updated)
}

// ApproveRequest transitions a request to approved.
func (s *RequestServiceImpl) ApproveRequest(ctx context.Context, id, actor, comment string) (*primary.Request, error) {
	return s.transitionTo(ctx, id, request.StateApproved, actor, comment)
}

// RejectRequest transitions a request to rejected.
func (s *RequestServiceImpl) RejectRequest(ctx context.Context, id, actor, comment string) (*primary.Request, error) {
	if strings.TrimSpace(comment) == "" {
		comment = RejectionDefaultComment
	}
	return s.transitionTo(ctx, id, request.StateRejected, actor, comment)
}

// CancelRequest transitions a request to cancelled.
func (s *RequestServiceImpl) CancelRequest(ctx context.Context, id, actor, comment string) (*primary.Request, error) {
	return s.transitionTo(ctx, id, request.StateCancelled, actor, comment)
}

// StartReview transitions a request to in_review.
func (s *RequestServiceImpl) StartReview(ctx context.Context, id, actor, comment string) (*primary.Request, error) {
	return s.transitionTo(ctx, id, request.StateInReview, actor, comment)
}

func (s *RequestServiceImpl) transitionTo(ctx context.Context, id string, target request.State, actor, comment string) (*primary.Request, error) {
	return s.TransitionRequest(ctx, primary.TransitionRequestRequest{
		ID:       id,
		NewState: string(target),
		Actor:    actor,
		Comment:  comment,
	})
}

// ListRequests lists requests matching all filters, newest first, each
// with its full history and comments.
func (s *RequestServiceImpl) ListRequests(ctx context.Context, filters primary.RequestFilters) ([]*primary.Request, error) {
	repoFilters := secondary.RequestFilters{
		Requester: strings.TrimSpace(filters.Requester),
		Approver:  strings.TrimSpace(filters.Approver),
		Limit:     max(filters.Limit, 0),
		Offset:    max(filters.Offset, 0),
	}
	if filters.State != "" {
		state, err := request.ParseState(filters.State)
		if err != nil {
			return nil, err
		}
		repoFilters.State = string(state)
	}
	if filters.Type != "" {
		typ, err := request.ParseType(filters.Type)
		if err != nil {
			return nil, err
		}
		repoFilters.Type = string(typ)
	}

	records, err := s.repo.List(ctx, repoFilters)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	requests := make([]*primary.Request, 0, len(records))
	for _, r := range records {
		req, err := recordToRequest(r)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// ListRequestsByUser lists the requests a user filed (requester) or must decide on (approver).
func (s *RequestServiceImpl) ListRequestsByUser(ctx context.Context, user string, role primary.UserRole) ([]*primary.Request, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, &request.ValidationError{Field: "user", Reason: "must not be empty"}
	}

	switch role {
	case primary.RoleRequester, "":
		return s.ListRequests(ctx, primary.RequestFilters{Requester: user})
	case primary.RoleApprover:
		return s.ListRequests(ctx, primary.RequestFilters{Approver: user})
	}
	return nil, &request.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
}

// GetStats returns total and per-state counts.
func (s *RequestServiceImpl) GetStats(ctx context.Context) (*primary.Stats, error) {
	record, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return &primary.Stats{
		Total:     record.Total,
		Pending:   record.ByState[string(request.StatePending)],
		InReview:  record.ByState[string(request.StateInReview)],
		Approved:  record.ByState[string(request.StateApproved)],
		Rejected:  record.ByState[string(request.StateRejected)],
		Cancelled: record.ByState[string(request.StateCancelled)],
	}, nil
}

// GetDashboard returns stats plus the most recently created requests.
func (s *RequestServiceImpl) GetDashboard(ctx context.Context, recent int) (*primary.Dashboard, error) {
	if recent <= 0 {
		recent = DefaultDashboardSize
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	latest, err := s.ListRequests(ctx, primary.RequestFilters{Limit: recent})
	if err != nil {
		return nil, err
	}

	return &primary.Dashboard{Stats: *stats, Recent: latest}, nil
}

// DeleteRequest removes a request together with its history and comments.
func (s *RequestServiceImpl) DeleteRequest(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("request deleted", "request_id", id, "actor", ctxutil.Actor(ctx))
	return nil
}

// withConflictRetry loads the request and runs write against it, reloading
// and retrying when the store reports a concurrent modification.
func (s *RequestServiceImpl) withConflictRetry(ctx context.Context, id string, write func(current *secondary.RequestRecord) error) error {
	for attempt := 0; ; attempt++ {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		err = write(current)
		if err == nil {
			return nil
		}
		if !errors.Is(err, request.ErrConflict) {
			return err
		}
		if attempt >= s.maxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		s.metrics.Conflict()
		s.logger.Debug("retrying after concurrent modification", "request_id", id, "attempt", attempt+1)
	}
}

// actor prefers the explicit actor and falls back to the one carried in ctx.
func (s *RequestServiceImpl) actor(ctx context.Context, explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	return ctxutil.Actor(ctx)
}

func (s *RequestServiceImpl) notify(ctx context.Context, kind string, msg notification.Message) {
	if s.notifier == nil {
		return
	}

	err := s.notifier.Notify(ctx, secondary.NotificationMessage{
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		s.metrics.NotificationFailed(kind)
		s.logger.Warn("notification failed", "kind", kind, "to", msg.To, "error", err)
	}
}

func historyRecord(h request.HistoryEntry) *secondary.HistoryRecord {
	return &secondary.HistoryRecord{
		Action:     string(h.Action),
		User:       h.User,
		Timestamp:  h.Timestamp,
		Comment:    h.Comment,
		PriorState: string(h.PriorState),
	}
}

func subjectOf(r *secondary.RequestRecord) notification.Subject {
	return notification.Subject{
		ID:        r.ID,
		Title:     r.Title,
		Requester: r.Requester,
		Approver:  r.Approver,
		Type:      request.Type(r.Type),
		State:     request.State(r.State),
	}
}

// recordToRequest converts a stored record to the public view, rejecting
// values outside the closed enumerations.
func recordToRequest(r *secondary.RequestRecord) (*primary.Request, error) {
	state, err := request.ParseState(r.State)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", r.ID, err)
	}
	typ, err := request.ParseType(r.Type)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", r.ID, err)
	}

	out := &primary.Request{
		ID:          r.ID,
		Code:        request.DisplayCode(typ, r.CreatedAt),
		Title:       r.Title,
		Description: r.Description,
		Requester:   r.Requester,
		Approver:    r.Approver,
		Type:        string(typ),
		TypeLabel:   typ.Label(),
		State:       string(state),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Version:     r.Version,
		History:     make([]primary.HistoryEntry, 0, len(r.History)),
		Comments:    make([]primary.Comment, 0, len(r.Comments)),
	}

	for _, h := range r.History {
		out.History = append(out.History, primary.HistoryEntry{
			Action:     h.Action,
			User:       h.User,
			Timestamp:  h.Timestamp,
			Comment:    h.Comment,
			PriorState: h.PriorState,
		})
	}
	for _, c := range r.Comments {
		out.Comments = append(out.Comments, primary.Comment{
			User:      c.User,
			Text:      c.Text,
			Timestamp: c.Timestamp,
			Category:  c.Category,
		})
	}
	return out, nil
}

// Ensure RequestServiceImpl implements the interface
var _ primary.RequestService = (*RequestServiceImpl)(nil)
