package request

import (
	"errors"
	"testing"
	"time"
)

func TestPlanCreate(t *testing.T) {
	fixedTime := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

	plan, err := PlanCreate(CreateRequestContext{
		Title:       "  Grant VPN access  ",
		Description: "Needs VPN for on-call rotation",
		Requester:   " jdoe ",
		Approver:    "asmith",
		Type:        TypeAccess,
	}, "req-1", fixedTime)
	if err != nil {
		t.Fatalf("PlanCreate failed: %v", err)
	}

	if plan.State != StatePending {
		t.Errorf("State = %q, want pending", plan.State)
	}
	if plan.Title != "Grant VPN access" {
		t.Errorf("Title = %q, want trimmed title", plan.Title)
	}
	if plan.Requester != "jdoe" {
		t.Errorf("Requester = %q, want %q", plan.Requester, "jdoe")
	}
	if !plan.CreatedAt.Equal(fixedTime) || !plan.UpdatedAt.Equal(fixedTime) {
		t.Errorf("timestamps = %v/%v, want %v", plan.CreatedAt, plan.UpdatedAt, fixedTime)
	}
	if plan.History.Action != ActionCreated {
		t.Errorf("History.Action = %q, want created", plan.History.Action)
	}
	if plan.History.User != "jdoe" {
		t.Errorf("History.User = %q, want requester", plan.History.User)
	}
	if plan.History.PriorState != "" {
		t.Errorf("History.PriorState = %q, want empty", plan.History.PriorState)
	}
}

func TestPlanCreate_RejectsShortTitle(t *testing.T) {
	_, err := PlanCreate(CreateRequestContext{
		Title:       "abcd",
		Description: "long enough description",
		Requester:   "jdoe",
		Approver:    "asmith",
		Type:        TypeOther,
	}, "req-1", time.Now())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestPlanTransition(t *testing.T) {
	fixedTime := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		current         State
		target          State
		comment         string
		wantHistoryText string
		wantCategory    CommentCategory
		wantComment     bool
	}{
		{
			name:            "approve with comment",
			current:         StatePending,
			target:          StateApproved,
			comment:         "looks good",
			wantHistoryText: "looks good",
			wantCategory:    CategoryApproval,
			wantComment:     true,
		},
		{
			name:            "review without comment",
			current:         StatePending,
			target:          StateInReview,
			wantHistoryText: "Request in_review",
		},
		{
			name:            "whitespace-only comment counts as empty",
			current:         StateInReview,
			target:          StateRejected,
			comment:         "   ",
			wantHistoryText: "Request rejected",
		},
		{
			name:            "back to pending with comment",
			current:         StateInReview,
			target:          StatePending,
			comment:         "needs rollback plan",
			wantHistoryText: "needs rollback plan",
			wantCategory:    CategoryReview,
			wantComment:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanTransition(tt.current, tt.target, "alice", tt.comment, fixedTime)
			if err != nil {
				t.Fatalf("PlanTransition failed: %v", err)
			}
			if plan.NewState != tt.target {
				t.Errorf("NewState = %q, want %q", plan.NewState, tt.target)
			}
			if plan.History.Action != Action(tt.target) {
				t.Errorf("History.Action = %q, want %q", plan.History.Action, tt.target)
			}
			if plan.History.PriorState != tt.current {
				t.Errorf("History.PriorState = %q, want %q", plan.History.PriorState, tt.current)
			}
			if plan.History.Comment != tt.wantHistoryText {
				t.Errorf("History.Comment = %q, want %q", plan.History.Comment, tt.wantHistoryText)
			}
			if (plan.Comment != nil) != tt.wantComment {
				t.Fatalf("Comment present = %v, want %v", plan.Comment != nil, tt.wantComment)
			}
			if plan.Comment != nil && plan.Comment.Category != tt.wantCategory {
				t.Errorf("Comment.Category = %q, want %q", plan.Comment.Category, tt.wantCategory)
			}
		})
	}
}

func TestPlanTransition_Illegal(t *testing.T) {
	_, err := PlanTransition(StateApproved, StatePending, "alice", "", time.Now())
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TransitionError", err)
	}
	if terr.From != StateApproved || terr.To != StatePending {
		t.Errorf("TransitionError = %+v", terr)
	}
}

func TestPlanTransition_RequiresActor(t *testing.T) {
	_, err := PlanTransition(StatePending, StateApproved, " ", "", time.Now())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestPlanUpdate(t *testing.T) {
	fixedTime := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	title := " New deployment title "
	typ := TypePipeline

	plan, err := PlanUpdate(FieldUpdate{Title: &title, Type: &typ}, "bob", fixedTime)
	if err != nil {
		t.Fatalf("PlanUpdate failed: %v", err)
	}
	if *plan.Fields.Title != "New deployment title" {
		t.Errorf("Title = %q", *plan.Fields.Title)
	}
	if plan.Fields.Description != nil {
		t.Error("Description should stay untouched")
	}
	if *plan.Fields.Type != TypePipeline {
		t.Errorf("Type = %q", *plan.Fields.Type)
	}
	if plan.History.Action != ActionUpdated || plan.History.User != "bob" {
		t.Errorf("History = %+v", plan.History)
	}
}

func TestPlanUpdate_Errors(t *testing.T) {
	short := "abc"
	badType := Type("nope")

	tests := []struct {
		name   string
		update FieldUpdate
	}{
		{name: "empty update", update: FieldUpdate{}},
		{name: "short title", update: FieldUpdate{Title: &short}},
		{name: "short description", update: FieldUpdate{Description: &short}},
		{name: "unknown type", update: FieldUpdate{Type: &badType}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PlanUpdate(tt.update, "bob", time.Now()); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestDisplayCode(t *testing.T) {
	created := time.Date(2026, 8, 17, 9, 5, 0, 0, time.UTC)
	if got := DisplayCode(TypeDeployment, created); got != "DEPL-202608170905" {
		t.Errorf("DisplayCode = %q", got)
	}
}

func TestCleanDescription(t *testing.T) {
	got := CleanDescription("  line one\n\n  line   two\t")
	if got != "line one line two" {
		t.Errorf("CleanDescription = %q", got)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Fatal("expected distinct identifiers")
	}
	if !ValidID(a) {
		t.Errorf("ValidID(%q) = false", a)
	}
	if ValidID("APPR-001") {
		t.Error("ValidID accepted a non-uuid identifier")
	}
}
