package request

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the engine, the service layer and the adapters.
// Callers match them with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("request not found")
	ErrUnknownState      = errors.New("unknown state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("request was modified concurrently")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError describes a refused state change.
type TransitionError struct {
	From   State
	To     State
	Reason string
}

func (e *TransitionError) Error() string {
	return e.Reason
}

// Unwrap lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError wraps ErrNotFound with the missing identifier.
func NotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
