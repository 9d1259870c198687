package httpx

import (
	"context"
	"log/slog"
	"sync"

	"github.com/civicpulse/sessionkit/internal/ports"
)

// Navigation collects the navigation requested while serving one request.
type Navigation struct {
	mu   sync.Mutex
	path string
}

// Path returns the requested path, or "" when none was requested.
func (n *Navigation) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

type navigationKey struct{}

// WithNavigation attaches a Navigation to ctx. The handler answers with a
// redirect to whatever path the session manager asks for.
func WithNavigation(ctx context.Context) (context.Context, *Navigation) {
	nav := &Navigation{}
	return context.WithValue(ctx, navigationKey{}, nav), nav
}

// Navigator hands navigation requests to the request being served. Requests
// made outside a request (background logout, CLI) are only logged.
type Navigator struct {
	Logger *slog.Logger
}

var _ ports.Navigator = (*Navigator)(nil)

func (n *Navigator) Navigate(ctx context.Context, path string) {
	if nav, ok := ctx.Value(navigationKey{}).(*Navigation); ok {
		nav.mu.Lock()
		nav.path = path
		nav.mu.Unlock()
		return
	}
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "navigation requested outside a request", "path", path)
}
