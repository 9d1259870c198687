package memstore

import (
	"context"
	"testing"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence_RoundTrip(t *testing.T) {
	p := New()
	ctx := context.Background()

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	sess := domainauth.Session{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
		User:        domainauth.User{ID: "u1", Email: "a@example.org"},
	}
	require.NoError(t, p.Save(ctx, sess))

	got, err = p.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok", got.AccessToken)

	got.AccessToken = "mutated"
	again, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", again.AccessToken, "Load must return a copy")

	require.NoError(t, p.Delete(ctx))
	got, err = p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
