package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh random request identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id has the shape of a request identifier.
// Storage backends with typed UUID columns use this to short-circuit lookups.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// DisplayCode builds a human-readable code such as DEPL-202601201230.
// The code is for display only; it is not unique.
func DisplayCode(t Type, createdAt time.Time) string {
	return fmt.Sprintf("%s-%s", t.CodePrefix(), createdAt.Format("200601021504"))
}

// CleanDescription collapses runs of whitespace into single spaces,
// producing a one-line preview of a description.
func CleanDescription(description string) string {
	return strings.Join(strings.Fields(description), " ")
}
