package devauth

import (
	"context"
	"testing"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T, now func() time.Time) *Provider {
	t.Helper()
	prov, err := NewProvider(Config{
		UserID:   "dev-user",
		Email:    "dev@example.com",
		Password: "dev",
		FullName: "Dev User",
		Now:      now,
	})
	require.NoError(t, err)
	return prov
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(Config{Email: "a@b", Password: "x"})
	assert.Error(t, err)
	_, err = NewProvider(Config{UserID: "u", Password: "x"})
	assert.Error(t, err)
	_, err = NewProvider(Config{UserID: "u", Email: "a@b"})
	assert.Error(t, err)
}

func TestProvider_SignInAndSignOut(t *testing.T) {
	prov := newProvider(t, nil)
	ctx := context.Background()

	var kinds []domainauth.EventKind
	prov.OnAuthStateChange(func(ev domainauth.Event) { kinds = append(kinds, ev.Kind) })

	sess, err := prov.SignIn(ctx, "DEV@example.com", "dev")
	require.NoError(t, err)
	require.NotNil(t, sess)
	_, err = uuid.Parse(sess.AccessToken)
	assert.NoError(t, err, "access token is a UUID")
	assert.Equal(t, "dev-user", sess.User.ID)
	assert.True(t, sess.User.EmailConfirmed())
	assert.Equal(t, "Dev User", sess.User.Claims["full_name"])

	user, err := prov.GetCurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "dev@example.com", user.Email)

	require.NoError(t, prov.SignOut(ctx))
	user, err = prov.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedIn, domainauth.EventSignedOut}, kinds)
}

func TestProvider_SignInWrongPassword(t *testing.T) {
	prov := newProvider(t, nil)
	_, err := prov.SignIn(context.Background(), "dev@example.com", "nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidCredentials(err))
}

func TestProvider_SignUp(t *testing.T) {
	prov := newProvider(t, nil)
	ctx := context.Background()

	sess, err := prov.SignUp(ctx, "new@example.com", "pw", map[string]any{"full_name": "Nova"})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.False(t, sess.User.EmailConfirmed(), "registered accounts start unconfirmed")
	assert.Equal(t, "Nova", sess.User.Claims["full_name"])

	_, err = prov.SignUp(ctx, "NEW@example.com", "pw", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "email", apperrors.GetField(err))

	require.NoError(t, prov.SignOut(ctx))
	again, err := prov.SignIn(ctx, "new@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, again.User.ID)
}

func TestProvider_ExpiredSessionDropped(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	clock := now
	prov := newProvider(t, func() time.Time { return clock })
	ctx := context.Background()

	_, err := prov.SignIn(ctx, "dev@example.com", "dev")
	require.NoError(t, err)

	clock = now.Add(9 * time.Hour)
	var kinds []domainauth.EventKind
	prov.OnAuthStateChange(func(ev domainauth.Event) { kinds = append(kinds, ev.Kind) })

	sess, err := prov.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedOut}, kinds)
}
