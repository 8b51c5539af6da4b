package request

import (
	"fmt"
	"strings"
	"time"
)

// HistoryEntry is the audit record produced by one mutating operation.
type HistoryEntry struct {
	Action     Action
	User       string
	Timestamp  time.Time
	Comment    string
	PriorState State // empty unless the action changed state
}

// Comment is a free-text annotation produced alongside a transition.
type Comment struct {
	User      string
	Text      string
	Timestamp time.Time
	Category  CommentCategory
}

// CreatePlan captures everything that must be persisted for a new request.
type CreatePlan struct {
	ID          string
	Title       string
	Description string
	Requester   string
	Approver    string
	Type        Type
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
	History     HistoryEntry
}

// PlanCreate validates a new request and builds its initial records.
// The caller supplies the identifier and the current time to keep this pure.
func PlanCreate(ctx CreateRequestContext, id string, now time.Time) (*CreatePlan, error) {
	if result := CanCreateRequest(ctx); !result.Allowed {
		return nil, result.Error()
	}

	requester := strings.TrimSpace(ctx.Requester)
	return &CreatePlan{
		ID:          id,
		Title:       strings.TrimSpace(ctx.Title),
		Description: strings.TrimSpace(ctx.Description),
		Requester:   requester,
		Approver:    strings.TrimSpace(ctx.Approver),
		Type:        ctx.Type,
		State:       InitialState(),
		CreatedAt:   now,
		UpdatedAt:   now,
		History: HistoryEntry{
			Action:    ActionCreated,
			User:      requester,
			Timestamp: now,
			Comment:   "Request created",
		},
	}, nil
}

// InitialState returns the state every new request starts in.
func InitialState() State {
	return StatePending
}

// FieldUpdate lists the metadata fields that may change outside a transition.
// Nil pointers leave the field untouched.
type FieldUpdate struct {
	Title       *string
	Description *string
	Type        *Type
}

// Empty reports whether the update changes nothing.
func (u FieldUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Type == nil
}

// UpdatePlan captures the normalised field values and the history entry to append.
type UpdatePlan struct {
	Fields    FieldUpdate
	UpdatedAt time.Time
	History   HistoryEntry
}

// PlanUpdate validates a metadata edit. It never consults the transition table:
// editing fields is allowed in any state.
func PlanUpdate(update FieldUpdate, actor string, now time.Time) (*UpdatePlan, error) {
	if update.Empty() {
		return nil, &ValidationError{Field: "fields", Reason: "at least one of title, description or type is required"}
	}
	if err := validateUsername("actor", actor); err != nil {
		return nil, err
	}

	var normalised FieldUpdate
	if update.Title != nil {
		if err := ValidateTitle(*update.Title); err != nil {
			return nil, err
		}
		title := strings.TrimSpace(*update.Title)
		normalised.Title = &title
	}
	if update.Description != nil {
		if err := ValidateDescription(*update.Description); err != nil {
			return nil, err
		}
		description := strings.TrimSpace(*update.Description)
		normalised.Description = &description
	}
	if update.Type != nil {
		if !update.Type.Valid() {
			return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown request type %q", *update.Type)}
		}
		t := *update.Type
		normalised.Type = &t
	}

	return &UpdatePlan{
		Fields:    normalised,
		UpdatedAt: now,
		History: HistoryEntry{
			Action:    ActionUpdated,
			User:      strings.TrimSpace(actor),
			Timestamp: now,
			Comment:   "Request updated",
		},
	}, nil
}

// TransitionPlan captures the result of a legal state change.
// Comment is nil when no comment text was supplied.
type TransitionPlan struct {
	PriorState State
	NewState   State
	UpdatedAt  time.Time
	History    HistoryEntry
	Comment    *Comment
}

// PlanTransition validates current -> target and builds the records to append.
// An empty comment produces a generated history comment and no Comment record.
func PlanTransition(current, target State, actor, comment string, now time.Time) (*TransitionPlan, error) {
	if err := ValidateTransition(current, target); err != nil {
		return nil, err
	}
	if err := validateUsername("actor", actor); err != nil {
		return nil, err
	}

	actor = strings.TrimSpace(actor)
	comment = strings.TrimSpace(comment)

	plan := &TransitionPlan{
		PriorState: current,
		NewState:   target,
		UpdatedAt:  now,
		History: HistoryEntry{
			Action:     Action(target),
			User:       actor,
			Timestamp:  now,
			Comment:    comment,
			PriorState: current,
		},
	}
	if comment == "" {
		plan.History.Comment = DefaultTransitionComment(target)
		return plan, nil
	}

	plan.Comment = &Comment{
		User:      actor,
		Text:      comment,
		Timestamp: now,
		Category:  CategoryFor(target),
	}
	return plan, nil
}

// DefaultTransitionComment is the history comment used when none is given.
func DefaultTransitionComment(s State) string {
	return fmt.Sprintf("Request %s", s)
}
