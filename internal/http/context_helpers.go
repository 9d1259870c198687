package httpx

import (
	"context"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
)

// stateKey is an unexported context key type to avoid collisions across packages.
// Centralized in this file so all handlers/middleware use the same key.
type stateKey struct{}

// SetStateInContext returns a child context carrying the session snapshot
// the request was admitted with.
func SetStateInContext(ctx context.Context, st domainauth.State) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// StateFromContext returns the admitted session snapshot, if any.
func StateFromContext(ctx context.Context) (domainauth.State, bool) {
	st, ok := ctx.Value(stateKey{}).(domainauth.State)
	return st, ok
}

// ProfileFromContext returns the profile of the admitted session.
func ProfileFromContext(ctx context.Context) (*domainauth.Profile, bool) {
	st, ok := StateFromContext(ctx)
	if !ok || st.Profile == nil {
		return nil, false
	}
	return st.Profile, true
}
