// Package ctxutil carries the acting user through request contexts.
// It has no internal dependencies so any layer can import it.
package ctxutil

import (
	"context"
	"strings"
)

type actorKey struct{}

// WithActor returns a copy of ctx carrying the acting username.
// Blank names are ignored.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor returns the acting username, or "" when none is set.
func Actor(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
