package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/ports/primary"
)

// mockRequestService implements primary.RequestService for testing
type mockRequestService struct {
	createFn     func(ctx context.Context, req primary.CreateRequestRequest) (*primary.Request, error)
	getFn        func(ctx context.Context, id string) (*primary.Request, error)
	listFn       func(ctx context.Context, filters primary.RequestFilters) ([]*primary.Request, error)
	transitionFn func(ctx context.Context, req primary.TransitionRequestRequest) (*primary.Request, error)
	deleteFn     func(ctx context.Context, id string) error

	// Track calls for verification
	lastCreateReq     primary.CreateRequestRequest
	lastUpdateReq     primary.UpdateRequestRequest
	lastTransitionReq primary.TransitionRequestRequest
	lastUser          string
	lastRole          primary.UserRole
	lastRecent        int
	deleted           []string
}

var testTime = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

func testRequest(id, state string) *primary.Request {
	return &primary.Request{
		ID:          id,
		Code:        "DEPL-202601200900",
		Title:       "Deploy billing v2",
		Description: "Roll out billing service v2 to production",
		Requester:   "jdoe",
		Approver:    "asmith",
		Type:        "despliegue",
		TypeLabel:   "Production Deployment",
		State:       state,
		CreatedAt:   testTime,
		UpdatedAt:   testTime,
		Version:     1,
	}
}

func (m *mockRequestService) CreateRequest(ctx context.Context, req primary.CreateRequestRequest) (*primary.Request, error) {
	m.lastCreateReq = req
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return testRequest("req-001", "pending"), nil
}

func (m *mockRequestService) GetRequest(ctx context.Context, id string) (*primary.Request, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return testRequest(id, "pending"), nil
}

func (m *mockRequestService) UpdateRequest(ctx context.Context, req primary.UpdateRequestRequest) (*primary.Request, error) {
	m.lastUpdateReq = req
	return testRequest(req.ID, "pending"), nil
}

func (m *mockRequestService) TransitionRequest(ctx context.Context, req primary.TransitionRequestRequest) (*primary.Request, error) {
	m.lastTransitionReq = req
	if m.transitionFn != nil {
		return m.transitionFn(ctx, req)
	}
	return testRequest(req.ID, req.NewState), nil
}

func (m *mockRequestService) ApproveRequest(ctx context.Context, id, actor, comment string) (*primary.Request, error) {
	return m.TransitionRequest(ctx, primary.TransitionRequestRequest{ID: id, NewState: "approved", Actor: actor, Comment: comment})
}

func (m *mockRequestService) RejectRequest(ctx context.Context, id, actor, comment string) (*primary.Request, error) {
	return m.TransitionRequest(ctx, primary.TransitionRequestRequest{ID: id, NewState: "rejected", Actor: actor, Comment: comment})
}

func (m *mockRequestService) CancelRequest(ctx context.Context, id, actor, comment string) (*primary.Request, error) {
	return m.TransitionRequest(ctx, primary.TransitionRequestRequest{ID: id, NewState: "cancelled", Actor: actor, Comment: comment})
}

func (m *mockRequestService) StartReview(ctx context.Context, id, actor, comment string) (*primary.Request, error) {
	return m.TransitionRequest(ctx, primary.TransitionRequestRequest{ID: id, NewState: "in_review", Actor: actor, Comment: comment})
}

func (m *mockRequestService) ListRequests(ctx context.Context, filters primary.RequestFilters) ([]*primary.Request, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filters)
	}
	return nil, nil
}

func (m *mockRequestService) ListRequestsByUser(ctx context.Context, user string, role primary.UserRole) ([]*primary.Request, error) {
	m.lastUser, m.lastRole = user, role
	return []*primary.Request{testRequest("req-001", "pending")}, nil
}

func (m *mockRequestService) GetStats(ctx context.Context) (*primary.Stats, error) {
	return &primary.Stats{Total: 3, Pending: 1, Approved: 2}, nil
}

func (m *mockRequestService) GetDashboard(ctx context.Context, recent int) (*primary.Dashboard, error) {
	m.lastRecent = recent
	return &primary.Dashboard{
		Stats:  primary.Stats{Total: 1, Pending: 1},
		Recent: []*primary.Request{testRequest("req-001", "pending")},
	}, nil
}

func (m *mockRequestService) DeleteRequest(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// ============================================================================
// Create Tests
// ============================================================================

func TestRequestAdapter_Create_Success(t *testing.T) {
	mock := &mockRequestService{}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf)

	err := adapter.Create(context.Background(), primary.CreateRequestRequest{
		Title:     "Deploy billing v2",
		Requester: "jdoe",
		Approver:  "asmith",
		Type:      "despliegue",
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mock.lastCreateReq.Type != "despliegue" {
		t.Errorf("expected type 'despliegue', got '%s'", mock.lastCreateReq.Type)
	}
	if !strings.Contains(buf.String(), "Created request req-001 [DEPL-202601200900]") {
		t.Errorf("expected created line, got '%s'", buf.String())
	}
	if !strings.Contains(buf.String(), "Approver asmith has been notified") {
		t.Errorf("expected notification line, got '%s'", buf.String())
	}
}

func TestRequestAdapter_Create_ServiceError(t *testing.T) {
	mock := &mockRequestService{
		createFn: func(ctx context.Context, req primary.CreateRequestRequest) (*primary.Request, error) {
			return nil, &request.ValidationError{Field: "title", Reason: "must have at least 5 characters"}
		},
	}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf)

	err := adapter.Create(context.Background(), primary.CreateRequestRequest{Title: "abc"})

	if !errors.Is(err, request.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output on error, got '%s'", buf.String())
	}
}

func TestRequestAdapter_Create_JSON(t *testing.T) {
	mock := &mockRequestService{}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf).JSON(true)

	if err := adapter.Create(context.Background(), primary.CreateRequestRequest{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("expected JSON output, got '%s': %v", buf.String(), err)
	}
	if got["id"] != "req-001" || got["state"] != "pending" || got["created_at"] != "2026-01-20T09:00:00Z" {
		t.Errorf("unexpected request view: %v", got)
	}
}

// ============================================================================
// List Tests
// ============================================================================

func TestRequestAdapter_List_WithResults(t *testing.T) {
	var captured primary.RequestFilters
	mock := &mockRequestService{
		listFn: func(ctx context.Context, filters primary.RequestFilters) ([]*primary.Request, error) {
			captured = filters
			return []*primary.Request{
				testRequest("req-001", "pending"),
				testRequest("req-002", "approved"),
			}, nil
		},
	}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf)

	err := adapter.List(context.Background(), primary.RequestFilters{State: "pending", Limit: 5})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if captured.State != "pending" || captured.Limit != 5 {
		t.Errorf("filters not passed through: %+v", captured)
	}
	output := buf.String()
	for _, want := range []string{"req-001", "req-002", "Approved", "Production Deployment", "REQUESTER"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain '%s', got '%s'", want, output)
		}
	}
}

func TestRequestAdapter_List_DescriptionPreview(t *testing.T) {
	multiline := testRequest("req-001", "pending")
	multiline.Description = "Roll out billing v2\n\n  to the   EU cluster"
	long := testRequest("req-002", "pending")
	long.Description = strings.Repeat("ñ", 60)

	mock := &mockRequestService{
		listFn: func(ctx context.Context, filters primary.RequestFilters) ([]*primary.Request, error) {
			return []*primary.Request{multiline, long}, nil
		},
	}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf)

	if err := adapter.List(context.Background(), primary.RequestFilters{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Roll out billing v2 to the EU cluster") {
		t.Errorf("expected flattened description, got '%s'", output)
	}
	if !strings.Contains(output, strings.Repeat("ñ", 37)+"...") || strings.Contains(output, strings.Repeat("ñ", 38)) {
		t.Errorf("expected description cut to 40 characters, got '%s'", output)
	}
	if lines := strings.Count(output, "\n"); lines != 4 {
		t.Errorf("expected header, rule and one line per request, got %d lines", lines)
	}
}

func TestRequestAdapter_List_Empty(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewRequestAdapter(&mockRequestService{}, &buf)

	if err := adapter.List(context.Background(), primary.RequestFilters{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), "No requests found") {
		t.Errorf("expected 'No requests found', got '%s'", buf.String())
	}
}

func TestRequestAdapter_List_EmptyJSON(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewRequestAdapter(&mockRequestService{}, &buf).JSON(true)

	if err := adapter.List(context.Background(), primary.RequestFilters{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("expected empty JSON array, got '%s'", buf.String())
	}
}

func TestRequestAdapter_ListByUser(t *testing.T) {
	mock := &mockRequestService{}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf)

	if err := adapter.ListByUser(context.Background(), "asmith", primary.RoleApprover); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mock.lastUser != "asmith" || mock.lastRole != primary.RoleApprover {
		t.Errorf("expected asmith/approver, got %s/%s", mock.lastUser, mock.lastRole)
	}
}

// ============================================================================
// Show Tests
// ============================================================================

func TestRequestAdapter_Show_WithHistoryAndComments(t *testing.T) {
	mock := &mockRequestService{
		getFn: func(ctx context.Context, id string) (*primary.Request, error) {
			r := testRequest(id, "in_review")
			r.History = []primary.HistoryEntry{
				{Action: "created", User: "jdoe", Timestamp: testTime},
				{Action: "in_review", User: "asmith", Timestamp: testTime, Comment: "checking rollout plan", PriorState: "pending"},
			}
			r.Comments = []primary.Comment{
				{User: "asmith", Text: "checking rollout plan", Timestamp: testTime, Category: "review"},
			}
			return r, nil
		},
	}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf)

	req, err := adapter.Show(context.Background(), "req-001")

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if req.ID != "req-001" {
		t.Errorf("expected request req-001, got '%s'", req.ID)
	}
	output := buf.String()
	for _, want := range []string{
		"Request: req-001 (DEPL-202601200900)",
		"In Review",
		"(from pending): checking rollout plan",
		"[review] asmith",
		"Next states: approved, rejected, pending, cancelled",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain '%s', got '%s'", want, output)
		}
	}
}

func TestRequestAdapter_Show_TerminalHasNoNextStates(t *testing.T) {
	mock := &mockRequestService{
		getFn: func(ctx context.Context, id string) (*primary.Request, error) {
			return testRequest(id, "approved"), nil
		},
	}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf)

	if _, err := adapter.Show(context.Background(), "req-001"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(buf.String(), "Next states") {
		t.Errorf("terminal request should not list next states, got '%s'", buf.String())
	}
}

func TestRequestAdapter_Show_NotFound(t *testing.T) {
	mock := &mockRequestService{
		getFn: func(ctx context.Context, id string) (*primary.Request, error) {
			return nil, request.NotFoundError(id)
		},
	}
	adapter := NewRequestAdapter(mock, &bytes.Buffer{})

	_, err := adapter.Show(context.Background(), "nope")

	if !errors.Is(err, request.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Update Tests
// ============================================================================

func TestRequestAdapter_Update(t *testing.T) {
	mock := &mockRequestService{}
	var buf bytes.Buffer
	adapter := NewRequestAdapter(mock, &buf)

	title := "Deploy billing v3"
	err := adapter.Update(context.Background(), primary.UpdateRequestRequest{ID: "req-001", Title: &title})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mock.lastUpdateReq.Title == nil || *mock.lastUpdateReq.Title != title {
		t.Errorf("expected title to be passed through, got %+v", mock.lastUpdateReq)
	}
	if !strings.Contains(buf.String(), "Request req-001 updated") {
		t.Errorf("expected update confirmation, got '%s'", buf.String())
	}
}

func TestRequestAdapter_Update_NothingToChange(t *testing.T) {
	adapter := NewRequestAdapter(&mockRequestService{}, &bytes.Buffer{})

	err := adapter.Update(context.Background(), primary.UpdateRequestRequest{ID: "req-001"})

	if err == nil {
		t.Fatal("expected error when no fields are given")
	}
}

// ============================================================================
// Transition Tests
// ============================================================================

func TestRequestAdapter_Shortcuts(t *testing.T) {
	tests := []struct {
		name      string
		call      func(a *RequestAdapter) error
		wantState string
		wantLabel string
	}{
		{"approve", func(a *RequestAdapter) error { return a.Approve(context.Background(), "req-001", "asmith", "ok") }, "approved", "Approved"},
		{"reject", func(a *RequestAdapter) error { return a.Reject(context.Background(), "req-001", "asmith", "") }, "rejected", "Rejected"},
		{"cancel", func(a *RequestAdapter) error { return a.Cancel(context.Background(), "req-001", "jdoe", "") }, "cancelled", "Cancelled"},
		{"review", func(a *RequestAdapter) error { return a.Review(context.Background(), "req-001", "asmith", "") }, "in_review", "In Review"},
		{"transition", func(a *RequestAdapter) error {
			return a.Transition(context.Background(), "req-001", "approved", "asmith", "")
		}, "approved", "Approved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockRequestService{}
			var buf bytes.Buffer

			if err := tt.call(NewRequestAdapter(mock, &buf)); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if mock.lastTransitionReq.NewState != tt.wantState {
				t.Errorf("expected target %s, got %s", tt.wantState, mock.lastTransitionReq.NewState)
			}
			if !strings.Contains(buf.String(), "is now") || !strings.Contains(buf.String(), tt.wantLabel) {
				t.Errorf("expected '%s' in output, got '%s'", tt.wantLabel, buf.String())
			}
		})
	}
}

func TestRequestAdapter_Transition_Invalid(t *testing.T) {
	mock := &mockRequestService{
		transitionFn: func(ctx context.Context, req primary.TransitionRequestRequest) (*primary.Request, error) {
			return nil, &request.TransitionError{From: request.StateApproved, To: request.StateCancelled, Reason: "terminal"}
		},
	}
	var buf bytes.Buffer

	err := NewRequestAdapter(mock, &buf).Cancel(context.Background(), "req-001", "jdoe", "")

	if !errors.Is(err, request.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got '%s'", buf.String())
	}
}

// ============================================================================
// Delete / Stats / Dashboard Tests
// ============================================================================

func TestRequestAdapter_Delete(t *testing.T) {
	mock := &mockRequestService{}
	var buf bytes.Buffer

	if err := NewRequestAdapter(mock, &buf).Delete(context.Background(), "req-001"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(mock.deleted) != 1 || mock.deleted[0] != "req-001" {
		t.Errorf("expected req-001 deleted, got %v", mock.deleted)
	}
	if !strings.Contains(buf.String(), "Deleted request req-001: Deploy billing v2") {
		t.Errorf("unexpected output '%s'", buf.String())
	}
}

func TestRequestAdapter_Delete_NotFound(t *testing.T) {
	mock := &mockRequestService{
		getFn: func(ctx context.Context, id string) (*primary.Request, error) {
			return nil, request.NotFoundError(id)
		},
	}

	err := NewRequestAdapter(mock, &bytes.Buffer{}).Delete(context.Background(), "nope")

	if !errors.Is(err, request.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(mock.deleted) != 0 {
		t.Errorf("expected no delete call, got %v", mock.deleted)
	}
}

func TestRequestAdapter_Stats(t *testing.T) {
	var buf bytes.Buffer

	if err := NewRequestAdapter(&mockRequestService{}, &buf).Stats(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "Total") || !strings.Contains(output, "3") {
		t.Errorf("expected totals in output, got '%s'", output)
	}
}

func TestRequestAdapter_Dashboard(t *testing.T) {
	mock := &mockRequestService{}
	var buf bytes.Buffer

	if err := NewRequestAdapter(mock, &buf).Dashboard(context.Background(), 5); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mock.lastRecent != 5 {
		t.Errorf("expected recent=5, got %d", mock.lastRecent)
	}
	if !strings.Contains(buf.String(), "Recent requests:") || !strings.Contains(buf.String(), "req-001") {
		t.Errorf("unexpected dashboard output '%s'", buf.String())
	}
}

func TestStateLabel(t *testing.T) {
	tests := map[string]string{
		"pending":   "Pending",
		"in_review": "In Review",
		"approved":  "Approved",
		"rejected":  "Rejected",
		"cancelled": "Cancelled",
		"archived":  "archived",
	}
	for state, want := range tests {
		if got := StateLabel(state); !strings.Contains(got, want) {
			t.Errorf("StateLabel(%q) = %q, want it to contain %q", state, got, want)
		}
	}
}
