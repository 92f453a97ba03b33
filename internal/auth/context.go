// ABOUTME: Request context helpers carrying the authenticated caller identity.
// ABOUTME: Provides WithCaller/CallerFromContext used by middleware and handlers.

package auth

import "context"

type contextKey struct{}

// Caller identifies an authenticated gateway caller.
type Caller struct {
	ID string
}

// WithCaller returns a context carrying the caller identity.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, caller)
}

// CallerFromContext extracts the caller identity, or nil if unauthenticated.
func CallerFromContext(ctx context.Context) *Caller {
	caller, _ := ctx.Value(contextKey{}).(*Caller)
	return caller
}
