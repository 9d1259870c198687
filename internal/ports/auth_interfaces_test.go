package ports_test

import (
	"testing"

	"github.com/civicpulse/sessionkit/internal/adapters/memstore"
	"github.com/civicpulse/sessionkit/internal/apiclient"
	mocks "github.com/civicpulse/sessionkit/internal/mocks/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
)

// This test only verifies that our doubles and adapters conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.SessionStore = (*mocks.FakeSessionStore)(nil)
	var _ ports.Navigator = (*mocks.RecordingNavigator)(nil)
	var _ ports.SessionPersistence = (*memstore.Persistence)(nil)
	var _ ports.TokenSink = (*apiclient.TokenPropagator)(nil)
	var _ ports.ProfileAPI = (*apiclient.Client)(nil)
	var _ ports.AdminChecker = (*apiclient.Client)(nil)
}
