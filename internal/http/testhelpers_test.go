package httpx

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/service"
	"github.com/stretchr/testify/require"
)

// stubSessions is a SessionController with a fixed snapshot.
type stubSessions struct {
	mu          sync.Mutex
	state       domainauth.State
	refreshFunc func(ctx context.Context) (domainauth.Profile, error)
	nav         *Navigator
	logouts     int
}

func (s *stubSessions) Snapshot() domainauth.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubSessions) set(st domainauth.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *stubSessions) RefreshProfile(ctx context.Context) (domainauth.Profile, error) {
	if s.refreshFunc != nil {
		return s.refreshFunc(ctx)
	}
	return domainauth.Profile{}, nil
}

func (s *stubSessions) Logout(ctx context.Context) {
	s.mu.Lock()
	s.logouts++
	s.state = domainauth.State{}
	s.mu.Unlock()
	if s.nav != nil {
		s.nav.Navigate(ctx, "/login")
	}
}

// stubGuard answers a fixed decision.
type stubGuard struct {
	decision service.AdminDecision
	calls    int
}

func (g *stubGuard) Check(context.Context, domainauth.State) service.AdminDecision {
	g.calls++
	return g.decision
}

func signedInState(id, email string) domainauth.State {
	confirmed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return domainauth.State{
		User:       &domainauth.User{ID: id, Email: email, EmailConfirmedAt: &confirmed},
		Profile:    &domainauth.Profile{ID: id, FullName: "Ana Souza", Username: "ana", Email: email},
		Generation: 1,
	}
}

func newTestPages(t *testing.T) *Pages {
	t.Helper()
	p, err := NewPages("suporte@example.org", nil)
	require.NoError(t, err)
	return p
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validationErr() error {
	return apperrors.ValidationField("email", "email is invalid")
}
