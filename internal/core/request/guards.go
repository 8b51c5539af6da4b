package request

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Minimum lengths for request text fields, counted in characters.
const (
	MinTitleLength       = 5
	MinDescriptionLength = 10
	MaxTitleLength       = 200
	MaxUsernameLength    = 100
)

// transitions lists the legal targets for each non-terminal state.
// A state never appears as its own target.
var transitions = map[State][]State{
	StatePending:  {StateInReview, StateApproved, StateRejected, StateCancelled},
	StateInReview: {StateApproved, StateRejected, StatePending, StateCancelled},
}

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string // Human-readable reason (populated when not allowed)
	err     error
}

// Error converts the guard result to an error if not allowed.
// The returned error matches the engine's sentinel errors.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return fmt.Errorf("%s", r.Reason)
}

func deny(err error) GuardResult {
	return GuardResult{Allowed: false, Reason: err.Error(), err: err}
}

// TransitionContext provides context for state transition guards.
type TransitionContext struct {
	RequestID    string
	CurrentState State
	TargetState  State
}

// CanTransition evaluates whether a request may move to the target state.
// Rules:
// - Terminal states (approved, rejected, cancelled) never transition
// - Target must be a defined state
// - Target must be listed for the current state in the transition table
func CanTransition(ctx TransitionContext) GuardResult {
	if err := ValidateTransition(ctx.CurrentState, ctx.TargetState); err != nil {
		return deny(err)
	}
	return GuardResult{Allowed: true}
}

// ValidateTransition decides whether current -> requested is legal.
// Pure and total: it never panics and performs no I/O.
func ValidateTransition(current, requested State) error {
	if current.IsTerminal() {
		return &TransitionError{
			From:   current,
			To:     requested,
			Reason: fmt.Sprintf("cannot change state from terminal state %q", current),
		}
	}

	if !requested.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownState, requested)
	}

	for _, allowed := range transitions[current] {
		if allowed == requested {
			return nil
		}
	}

	return &TransitionError{
		From:   current,
		To:     requested,
		Reason: fmt.Sprintf("cannot change state from %q to %q", current, requested),
	}
}

// AllowedTargets returns the states reachable from s, in table order.
// Terminal and unknown states have no targets.
func AllowedTargets(s State) []State {
	targets := transitions[s]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// CreateRequestContext provides context for request creation guards.
type CreateRequestContext struct {
	Title       string
	Description string
	Requester   string
	Approver    string
	Type        Type
}

// CanCreateRequest evaluates whether a new request may be created.
// Rules:
// - Title must have at least 5 characters
// - Description must have at least 10 characters
// - Requester and approver must not be blank
// - Type must be a defined request type
func CanCreateRequest(ctx CreateRequestContext) GuardResult {
	if err := ValidateTitle(ctx.Title); err != nil {
		return deny(err)
	}
	if err := ValidateDescription(ctx.Description); err != nil {
		return deny(err)
	}
	if err := validateUsername("requester", ctx.Requester); err != nil {
		return deny(err)
	}
	if err := validateUsername("approver", ctx.Approver); err != nil {
		return deny(err)
	}
	if !ctx.Type.Valid() {
		return deny(&ValidationError{Field: "type", Reason: fmt.Sprintf("unknown request type %q", ctx.Type)})
	}
	return GuardResult{Allowed: true}
}

// ValidateNewRequest is the error-returning form of CanCreateRequest.
func ValidateNewRequest(ctx CreateRequestContext) error {
	return CanCreateRequest(ctx).Error()
}

// ValidateTitle checks the title length constraints. Titles are a single
// line: control characters, including CR and LF, are rejected.
func ValidateTitle(title string) error {
	if hasControl(title) {
		return &ValidationError{Field: "title", Reason: "must not contain control characters"}
	}
	n := utf8.RuneCountInString(strings.TrimSpace(title))
	if n < MinTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must have at least %d characters", MinTitleLength)}
	}
	if n > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must have at most %d characters", MaxTitleLength)}
	}
	return nil
}

// ValidateDescription checks the description length constraint.
func ValidateDescription(description string) error {
	if utf8.RuneCountInString(strings.TrimSpace(description)) < MinDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must have at least %d characters", MinDescriptionLength)}
	}
	return nil
}

func validateUsername(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if hasControl(name) {
		return &ValidationError{Field: field, Reason: "must not contain control characters"}
	}
	if utf8.RuneCountInString(name) > MaxUsernameLength {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must have at most %d characters", MaxUsernameLength)}
	}
	return nil
}

func hasControl(s string) bool {
	return strings.ContainsFunc(s, unicode.IsControl)
}
