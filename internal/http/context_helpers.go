package httpx

import (
	"context"

	domainauth "github.com/target/portal-session/internal/domain/auth"
)

// authStateKey is an unexported context key type to avoid collisions across packages.
type authStateKey struct{}

// SetAuthStateInContext returns a child context carrying the auth snapshot a
// gated handler was admitted with.
func SetAuthStateInContext(ctx context.Context, state domainauth.AuthState) context.Context {
	return context.WithValue(ctx, authStateKey{}, state)
}

// GetAuthStateFromContext returns the auth snapshot from context and a boolean indicating presence.
func GetAuthStateFromContext(ctx context.Context) (domainauth.AuthState, bool) {
	s, ok := ctx.Value(authStateKey{}).(domainauth.AuthState)
	return s, ok
}

// IsGuestUser reports whether the request carries no identity or a guest identity.
func IsGuestUser(ctx context.Context) bool {
	s, ok := GetAuthStateFromContext(ctx)
	if !ok || s.Identity == nil {
		return true
	}
	return s.Identity.IsGuest
}

type requestIDKey struct{}

// RequestIDFromContext returns the request id assigned by the RequestID middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
