// Package request contains the pure business logic for approval requests.
// This is part of the Functional Core - no I/O, only pure functions.
package request

import (
	"fmt"
	"strings"
)

// State represents the lifecycle state of an approval request.
type State string

const (
	StatePending   State = "pending"
	StateInReview  State = "in_review"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateCancelled State = "cancelled"
)

// AllStates lists every defined state in lifecycle order.
var AllStates = []State{StatePending, StateInReview, StateApproved, StateRejected, StateCancelled}

// ParseState converts a raw string into a State.
// Returns ErrUnknownState for anything outside the defined set.
func ParseState(s string) (State, error) {
	st := State(strings.TrimSpace(s))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
	return st, nil
}

// Valid reports whether the state is one of the five defined values.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateInReview, StateApproved, StateRejected, StateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted from s.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateRejected || s == StateCancelled
}

// Label returns the human-readable name of the state.
func (s State) Label() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInReview:
		return "In Review"
	case StateApproved:
		return "Approved"
	case StateRejected:
		return "Rejected"
	case StateCancelled:
		return "Cancelled"
	}
	return string(s)
}

// Type is the category of an approval request.
type Type string

const (
	TypeDeployment Type = "despliegue"
	TypeAccess     Type = "acceso"
	TypeTechnical  Type = "cambio_tecnico"
	TypePipeline   Type = "pipeline"
	TypeOnboarding Type = "incorporacion"
	TypeOther      Type = "otro"
)

// AllTypes lists every defined request type.
var AllTypes = []Type{TypeDeployment, TypeAccess, TypeTechnical, TypePipeline, TypeOnboarding, TypeOther}

// ParseType converts a raw string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown request type %q", s)}
	}
	return t, nil
}

// Valid reports whether the type is one of the defined values.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Label returns the human-readable name of the request type.
func (t Type) Label() string {
	switch t {
	case TypeDeployment:
		return "Production Deployment"
	case TypeAccess:
		return "Access Request"
	case TypeTechnical:
		return "Technical Change"
	case TypePipeline:
		return "Pipeline Configuration"
	case TypeOnboarding:
		return "Staff Onboarding"
	case TypeOther:
		return "Other"
	}
	// Unknown codes degrade to a title-cased version of the code.
	words := strings.Fields(strings.ReplaceAll(string(t), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// CodePrefix returns the prefix used for human-readable request codes.
func (t Type) CodePrefix() string {
	switch t {
	case TypeDeployment:
		return "DEPL"
	case TypeAccess:
		return "ACC"
	case TypeTechnical:
		return "TECH"
	case TypePipeline:
		return "PIPE"
	case TypeOnboarding:
		return "INC"
	case TypeOther:
		return "OTR"
	}
	return "SOL"
}

// Action is the kind of event recorded in a history entry.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionPending   Action = Action(StatePending)
	ActionInReview  Action = Action(StateInReview)
	ActionApproved  Action = Action(StateApproved)
	ActionRejected  Action = Action(StateRejected)
	ActionCancelled Action = Action(StateCancelled)
)

// ParseAction converts a raw string into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	switch a {
	case ActionCreated, ActionUpdated:
		return a, nil
	}
	if State(a).Valid() {
		return a, nil
	}
	return "", fmt.Errorf("unknown history action %q", s)
}

// CommentCategory tags a comment with the kind of decision it accompanies.
type CommentCategory string

const (
	CategoryGeneral   CommentCategory = "general"
	CategoryApproval  CommentCategory = "approved"
	CategoryRejection CommentCategory = "rejected"
	CategoryReview    CommentCategory = "review"
)

// ParseCommentCategory converts a raw string into a CommentCategory.
func ParseCommentCategory(s string) (CommentCategory, error) {
	c := CommentCategory(s)
	switch c {
	case CategoryGeneral, CategoryApproval, CategoryRejection, CategoryReview:
		return c, nil
	}
	return "", fmt.Errorf("unknown comment category %q", s)
}

// CategoryFor returns the comment category attached to a transition into s.
func CategoryFor(s State) CommentCategory {
	switch s {
	case StateApproved:
		return CategoryApproval
	case StateRejected:
		return CategoryRejection
	case StateInReview, StatePending:
		return CategoryReview
	}
	return CategoryGeneral
}
