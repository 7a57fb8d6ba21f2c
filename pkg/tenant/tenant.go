// Package tenant carries the ambient tenant identity on context.Context.
// The scope is bound on request entry and must be propagated across every
// task boundary (branch spawns, queue workers, MCP callbacks).
package tenant

import "context"

type contextKey struct{}

// Default is the permissive dev/test tenant used when no bearer token is
// presented and the server is configured to allow a fallback.
const Default = "default"

// WithTenant returns a context bound to the given tenant id.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the tenant id bound to the context.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// MustFromContext returns the bound tenant id or Default if none is set.
func MustFromContext(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id
	}
	return Default
}
