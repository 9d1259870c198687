package ports

// Package ports defines interfaces (hexagonal ports) for session-related behavior.
// Implementations live in internal/adapters and internal/apiclient; orchestration in internal/service.

import (
	"context"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
)

//go:generate mockgen -source=auth.go -destination=auth_mock.go -package=ports

// Unsubscribe releases a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// SessionStore is the external identity service issuing bearer sessions.
type SessionStore interface {
	// SignIn exchanges credentials for a session and notifies subscribers.
	SignIn(ctx context.Context, email, password string) (*domainauth.Session, error)

	// SignUp registers a user with the given claim metadata. The returned session
	// is nil when the store requires email confirmation before issuing one.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domainauth.Session, error)

	// SignOut revokes the current session and notifies subscribers.
	SignOut(ctx context.Context) error

	// GetCurrentUser returns the current user, or nil when signed out.
	GetCurrentUser(ctx context.Context) (*domainauth.User, error)

	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*domainauth.Session, error)

	// OnAuthStateChange registers fn for every subsequent change event.
	OnAuthStateChange(fn func(domainauth.Event)) Unsubscribe
}

// SessionPersistence keeps the current session across process restarts.
type SessionPersistence interface {
	Save(ctx context.Context, sess domainauth.Session) error
	// Load returns nil without error when nothing is stored.
	Load(ctx context.Context) (*domainauth.Session, error)
	Delete(ctx context.Context) error
}

// TokenSink receives the bearer token that outgoing API calls carry.
type TokenSink interface {
	SetToken(token string)
	ClearToken()
}

// ProfileAPI fetches the authenticated user's backend profile record.
type ProfileAPI interface {
	GetProfile(ctx context.Context) (*domainauth.RemoteProfile, error)
}

// AdminChecker answers whether a user id holds the administrator role.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Navigator performs a full navigation that discards in-memory client state.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}
