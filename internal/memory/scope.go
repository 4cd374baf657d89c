package memory

import (
	"context"
	"regexp"
)

type scopeKey struct{}

var scopeRe = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// ValidScope reports whether s can name a memory scope. Scopes become part
// of a Redis key.
func ValidScope(s string) bool {
	return scopeRe.MatchString(s)
}

// WithScope attaches the caller's memory scope, usually a session id, to ctx.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom returns the scope attached by WithScope, or "" when the request
// has none. Requests without a scope neither read nor write memory.
func ScopeFrom(ctx context.Context) string {
	s, _ := ctx.Value(scopeKey{}).(string)
	return s
}
