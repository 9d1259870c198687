package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicpulse/sessionkit/internal/adapters/authroles"
	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/civicpulse/sessionkit/internal/testutil"
	"github.com/civicpulse/sessionkit/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fixedNow = testutil.TestTime()

func newTestResolver(t *testing.T, api ports.ProfileAPI, timeout time.Duration) *ProfileResolver {
	t.Helper()
	r, err := NewProfileResolver(ProfileResolverOptions{
		API: api,
		Config: ProfileResolverConfig{
			Admin:         authroles.NewAdminEmailMatcher("admin@example.org"),
			EnrichTimeout: timeout,
			Now:           testutil.FixedTimeFunc(fixedNow),
		},
	})
	require.NoError(t, err)
	return r
}

func TestProfileResolver_Resolve(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := newTestResolver(t, ports.NewMockProfileAPI(ctrl), time.Second)

	t.Run("display name fallback chain", func(t *testing.T) {
		tests := []struct {
			name   string
			claims map[string]any
			want   string
		}{
			{"full name", map[string]any{"full_name": "Ana Souza", "username": "ana"}, "Ana Souza"},
			{"username", map[string]any{"username": "ana"}, "ana"},
			{"blank full name", map[string]any{"full_name": "  ", "username": "ana"}, "ana"},
			{"nested metadata", map[string]any{"user_metadata": map[string]any{"full_name": "Bia Lima"}}, "Bia Lima"},
			{"nothing", nil, DefaultDisplayName},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p := r.Resolve(domainauth.User{ID: "u1", Email: "u1@example.org", Claims: tt.claims})
				assert.Equal(t, tt.want, p.FullName)
			})
		}
	})

	t.Run("avatar is nil when absent", func(t *testing.T) {
		p := r.Resolve(domainauth.User{ID: "u1"})
		assert.Nil(t, p.AvatarURL)

		p = r.Resolve(domainauth.User{ID: "u1", Claims: map[string]any{"avatar_url": "https://img/a.png"}})
		require.NotNil(t, p.AvatarURL)
		assert.Equal(t, "https://img/a.png", *p.AvatarURL)
	})

	t.Run("regular user keeps confirmation state", func(t *testing.T) {
		p := r.Resolve(domainauth.User{ID: "u1", Email: "u1@example.org"})
		assert.False(t, p.IsAdmin)
		assert.Nil(t, p.EmailConfirmedAt)

		confirmed := fixedNow.Add(-time.Hour)
		p = r.Resolve(domainauth.User{ID: "u1", Email: "u1@example.org", EmailConfirmedAt: &confirmed})
		require.NotNil(t, p.EmailConfirmedAt)
		assert.Equal(t, confirmed, *p.EmailConfirmedAt)
	})

	t.Run("admin address is forced confirmed", func(t *testing.T) {
		p := r.Resolve(domainauth.User{ID: "a1", Email: " Admin@Example.org "})
		assert.True(t, p.IsAdmin)
		require.NotNil(t, p.EmailConfirmedAt)
		assert.Equal(t, fixedNow, *p.EmailConfirmedAt)
	})

	t.Run("idempotent", func(t *testing.T) {
		u := domainauth.User{ID: "a1", Email: "admin@example.org", Claims: map[string]any{"full_name": "Root"}}
		assert.Equal(t, r.Resolve(u), r.Resolve(u))
	})
}

func TestNewProfileResolver_InvalidExpression(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, err := NewProfileResolver(ProfileResolverOptions{
		API:    ports.NewMockProfileAPI(ctrl),
		Config: ProfileResolverConfig{Claims: ProfileClaims{Name: []string{"user_metadata.["}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile claim expression")
}

func TestProfileResolver_Enrich(t *testing.T) {
	local := domainauth.Profile{ID: "u1", FullName: "ana", Email: "u1@example.org"}

	t.Run("merges remote record", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		api := ports.NewMockProfileAPI(ctrl)
		api.EXPECT().GetProfile(gomock.Any()).Return(&domainauth.RemoteProfile{
			FullName: testutil.StringPtr("Ana Souza"),
			Points:   testutil.IntPtr(40),
		}, nil)

		got, out := newTestResolver(t, api, time.Second).Enrich(context.Background(), local)
		assert.True(t, out.OK())
		assert.Equal(t, "Ana Souza", got.FullName)
		assert.Equal(t, 40, got.Points)
	})

	t.Run("failure returns local unchanged", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		api := ports.NewMockProfileAPI(ctrl)
		api.EXPECT().GetProfile(gomock.Any()).Return(nil, errors.New("boom"))

		got, out := newTestResolver(t, api, time.Second).Enrich(context.Background(), local)
		assert.Equal(t, util.StatusFailed, out.Status)
		assert.Equal(t, local, got)
	})

	t.Run("timeout returns local unchanged", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		api := ports.NewMockProfileAPI(ctrl)
		release := make(chan struct{})
		defer close(release)
		api.EXPECT().GetProfile(gomock.Any()).DoAndReturn(func(context.Context) (*domainauth.RemoteProfile, error) {
			<-release
			return &domainauth.RemoteProfile{FullName: testutil.StringPtr("late")}, nil
		})

		start := time.Now()
		got, out := newTestResolver(t, api, 30*time.Millisecond).Enrich(context.Background(), local)
		assert.Equal(t, util.StatusTimedOut, out.Status)
		assert.Equal(t, local, got)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestMergeProfile(t *testing.T) {
	confirmed := fixedNow.Add(-24 * time.Hour)
	remoteConfirmed := fixedNow
	local := domainauth.Profile{
		ID:               "u1",
		FullName:         "ana",
		Username:         "ana",
		Email:            "u1@example.org",
		AvatarURL:        testutil.StringPtr("https://img/local.png"),
		IsAdmin:          true,
		EmailConfirmedAt: &confirmed,
	}

	t.Run("empty remote strings do not overwrite", func(t *testing.T) {
		got := MergeProfile(local, domainauth.RemoteProfile{FullName: testutil.StringPtr(""), Username: testutil.StringPtr("  ")})
		assert.Equal(t, "ana", got.FullName)
		assert.Equal(t, "ana", got.Username)
	})

	t.Run("avatar tri-state", func(t *testing.T) {
		got := MergeProfile(local, domainauth.RemoteProfile{})
		require.NotNil(t, got.AvatarURL)
		assert.Equal(t, "https://img/local.png", *got.AvatarURL)

		got = MergeProfile(local, domainauth.RemoteProfile{AvatarURL: domainauth.OptionalString{Set: true}})
		assert.Nil(t, got.AvatarURL)

		got = MergeProfile(local, domainauth.RemoteProfile{
			AvatarURL: domainauth.OptionalString{Set: true, Value: testutil.StringPtr("https://img/remote.png")},
		})
		require.NotNil(t, got.AvatarURL)
		assert.Equal(t, "https://img/remote.png", *got.AvatarURL)
	})

	t.Run("admin can be added but not revoked", func(t *testing.T) {
		assert.True(t, MergeProfile(local, domainauth.RemoteProfile{IsAdmin: testutil.BoolPtr(false)}).IsAdmin)

		plain := local
		plain.IsAdmin = false
		assert.True(t, MergeProfile(plain, domainauth.RemoteProfile{IsAdmin: testutil.BoolPtr(true)}).IsAdmin)
	})

	t.Run("local confirmation kept", func(t *testing.T) {
		got := MergeProfile(local, domainauth.RemoteProfile{EmailConfirmedAt: testutil.TimePtr(remoteConfirmed)})
		assert.Equal(t, confirmed, *got.EmailConfirmedAt)

		unconfirmed := local
		unconfirmed.EmailConfirmedAt = nil
		got = MergeProfile(unconfirmed, domainauth.RemoteProfile{EmailConfirmedAt: testutil.TimePtr(remoteConfirmed)})
		require.NotNil(t, got.EmailConfirmedAt)
		assert.Equal(t, remoteConfirmed, *got.EmailConfirmedAt)
	})

	t.Run("does not alias local pointers", func(t *testing.T) {
		got := MergeProfile(local, domainauth.RemoteProfile{})
		*got.AvatarURL = "mutated"
		assert.Equal(t, "https://img/local.png", *local.AvatarURL)
	})
}
