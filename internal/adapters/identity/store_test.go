package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/civicpulse/sessionkit/internal/adapters/memstore"
	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/civicpulse/sessionkit/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "anon-key"

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeService struct {
	mu            sync.Mutex
	calls         []string
	logoutStatus  int
	refreshStatus int
	confirmSignup bool
	fullName      string

	// When set, the logout handler waits on logoutGate and the refresh grant
	// signals refreshStarted then waits on refreshGate.
	logoutGate     chan struct{}
	refreshStarted chan struct{}
	refreshGate    chan struct{}
}

// ctxPersistence fails like a network-backed store once ctx is done.
type ctxPersistence struct {
	*memstore.Persistence
}

func (p ctxPersistence) Save(ctx context.Context, sess domainauth.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Persistence.Save(ctx, sess)
}

func (p ctxPersistence) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Persistence.Delete(ctx)
}

func (f *fakeService) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
}

func (f *fakeService) userJSON() map[string]any {
	f.mu.Lock()
	name := f.fullName
	f.mu.Unlock()
	if name == "" {
		name = "Ana Souza"
	}
	return map[string]any{
		"id":                 "user-1",
		"email":              "ana@example.org",
		"email_confirmed_at": "2025-01-02T03:04:05Z",
		"user_metadata":      map[string]any{"full_name": name},
	}
}

func (f *fakeService) tokenJSON(access, refresh string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_at":    fixedNow.Add(time.Hour).Unix(),
		"refresh_token": refresh,
		"user":          f.userJSON(),
	}
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		assert.Equal(t, testAPIKey, r.Header.Get("apikey"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if body["password"] != "secret" {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error":             "invalid_grant",
					"error_description": "Invalid login credentials",
				})
				return
			}
			writeJSON(w, http.StatusOK, f.tokenJSON("access-1", "refresh-1"))
		case "refresh_token":
			if f.refreshGate != nil {
				f.refreshStarted <- struct{}{}
				<-f.refreshGate
			}
			f.mu.Lock()
			status := f.refreshStatus
			f.mu.Unlock()
			if status != 0 {
				writeJSON(w, status, map[string]string{"error": "invalid_grant"})
				return
			}
			writeJSON(w, http.StatusOK, f.tokenJSON("access-2", "refresh-2"))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body struct {
			Email string         `json:"email"`
			Data  map[string]any `json:"data"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Email == "taken@example.org" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"msg": "User already registered"})
			return
		}
		if f.confirmSignup {
			writeJSON(w, http.StatusOK, map[string]any{"id": "user-2", "email": body.Email, "user_metadata": body.Data})
			return
		}
		writeJSON(w, http.StatusOK, f.tokenJSON("access-new", "refresh-new"))
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		if f.logoutGate != nil {
			select {
			case <-f.logoutGate:
			case <-r.Context().Done():
				return
			}
		}
		f.mu.Lock()
		status := f.logoutStatus
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "missing token"})
			return
		}
		writeJSON(w, http.StatusOK, f.userJSON())
	})
	return mux
}

func newTestStore(t *testing.T, svc *fakeService, now func() time.Time) (*Store, *memstore.Persistence) {
	t.Helper()
	persist := memstore.New()
	return newTestStoreWith(t, svc, now, persist), persist
}

func newTestStoreWith(t *testing.T, svc *fakeService, now func() time.Time, persist ports.SessionPersistence) *Store {
	t.Helper()
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)
	if now == nil {
		now = func() time.Time { return fixedNow }
	}
	store, err := NewStore(Config{
		URL:         srv.URL + "/auth/v1",
		APIKey:      testAPIKey,
		HTTPClient:  srv.Client(),
		Persistence: persist,
		Now:         now,
	})
	require.NoError(t, err)
	return store
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(Config{APIKey: "k"})
	require.Error(t, err)
	_, err = NewStore(Config{URL: "http://x"})
	require.Error(t, err)
}

func TestStore_SignInPublishesAndPersists(t *testing.T) {
	svc := &fakeService{}
	store, persist := newTestStore(t, svc, nil)
	ctx := context.Background()

	var events []domainauth.Event
	store.OnAuthStateChange(func(ev domainauth.Event) { events = append(events, ev) })

	sess, err := store.SignIn(ctx, "ana@example.org", "secret")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "access-1", sess.AccessToken)
	assert.Equal(t, "user-1", sess.User.ID)
	assert.True(t, sess.User.EmailConfirmed())
	meta, ok := sess.User.Claims["user_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ana Souza", meta["full_name"])
	assert.Equal(t, fixedNow.Add(time.Hour).Unix(), sess.ExpiresAt.Unix())

	require.Len(t, events, 1)
	assert.Equal(t, domainauth.EventSignedIn, events[0].Kind)

	saved, err := persist.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "access-1", saved.AccessToken)
}

func TestStore_SignInBadCredentials(t *testing.T) {
	svc := &fakeService{}
	store, _ := newTestStore(t, svc, nil)

	sess, err := store.SignIn(context.Background(), "ana@example.org", "wrong")
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.True(t, apperrors.IsInvalidCredentials(err))
	assert.Contains(t, err.Error(), "Invalid login credentials")

	got, err := store.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_SignInRequiresCredentials(t *testing.T) {
	store, _ := newTestStore(t, &fakeService{}, nil)
	_, err := store.SignIn(context.Background(), "", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestStore_SignUp(t *testing.T) {
	t.Run("session issued", func(t *testing.T) {
		store, _ := newTestStore(t, &fakeService{}, nil)
		sess, err := store.SignUp(context.Background(), "new@example.org", "secret", map[string]any{"full_name": "Novo"})
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "access-new", sess.AccessToken)
	})

	t.Run("confirmation required", func(t *testing.T) {
		store, _ := newTestStore(t, &fakeService{confirmSignup: true}, nil)
		var events int
		store.OnAuthStateChange(func(domainauth.Event) { events++ })
		sess, err := store.SignUp(context.Background(), "new@example.org", "secret", nil)
		require.NoError(t, err)
		assert.Nil(t, sess)
		assert.Zero(t, events)
	})

	t.Run("already registered", func(t *testing.T) {
		store, _ := newTestStore(t, &fakeService{}, nil)
		_, err := store.SignUp(context.Background(), "taken@example.org", "secret", nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Contains(t, err.Error(), "already registered")
	})
}

func TestStore_GetCurrentUser(t *testing.T) {
	svc := &fakeService{}
	store, _ := newTestStore(t, svc, nil)
	ctx := context.Background()

	user, err := store.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user, "no session means no user")

	_, err = store.SignIn(ctx, "ana@example.org", "secret")
	require.NoError(t, err)

	var kinds []domainauth.EventKind
	store.OnAuthStateChange(func(ev domainauth.Event) { kinds = append(kinds, ev.Kind) })

	user, err = store.GetCurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ana@example.org", user.Email)
	assert.Empty(t, kinds, "unchanged user publishes nothing")

	svc.mu.Lock()
	svc.fullName = "Ana S."
	svc.mu.Unlock()

	_, err = store.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domainauth.EventKind{domainauth.EventUserUpdated}, kinds)
}

func TestStore_SignOut(t *testing.T) {
	t.Run("revokes and clears", func(t *testing.T) {
		svc := &fakeService{}
		store, persist := newTestStore(t, svc, nil)
		ctx := context.Background()
		_, err := store.SignIn(ctx, "ana@example.org", "secret")
		require.NoError(t, err)

		var kinds []domainauth.EventKind
		store.OnAuthStateChange(func(ev domainauth.Event) { kinds = append(kinds, ev.Kind) })

		require.NoError(t, store.SignOut(ctx))
		assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedOut}, kinds)

		saved, err := persist.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, saved)
	})

	t.Run("already revoked token is fine", func(t *testing.T) {
		store, _ := newTestStore(t, &fakeService{logoutStatus: http.StatusUnauthorized}, nil)
		ctx := context.Background()
		_, err := store.SignIn(ctx, "ana@example.org", "secret")
		require.NoError(t, err)
		require.NoError(t, store.SignOut(ctx))
	})

	t.Run("server failure still clears locally", func(t *testing.T) {
		store, _ := newTestStore(t, &fakeService{logoutStatus: http.StatusInternalServerError}, nil)
		ctx := context.Background()
		_, err := store.SignIn(ctx, "ana@example.org", "secret")
		require.NoError(t, err)

		err = store.SignOut(ctx)
		require.Error(t, err)
		sess, err := store.GetSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("no session", func(t *testing.T) {
		svc := &fakeService{}
		store, _ := newTestStore(t, svc, nil)
		require.NoError(t, store.SignOut(context.Background()))
		assert.Empty(t, svc.calls)
	})
}

func TestStore_SignOutTimeoutStillForgetsSession(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	persist := ctxPersistence{memstore.New()}
	store := newTestStoreWith(t, &fakeService{logoutGate: gate}, nil, persist)
	ctx := context.Background()
	_, err := store.SignIn(ctx, "ana@example.org", "secret")
	require.NoError(t, err)

	var kinds []domainauth.EventKind
	store.OnAuthStateChange(func(ev domainauth.Event) { kinds = append(kinds, ev.Kind) })

	out := util.WithinErr(ctx, 100*time.Millisecond, store.SignOut)
	assert.Equal(t, util.StatusTimedOut, out.Status)

	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedOut}, kinds)
	assert.Nil(t, store.current.Session())
	saved, err := persist.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved, "persisted session must not survive sign-out")

	// A fresh store over the same persistence starts anonymous.
	again := newTestStoreWith(t, &fakeService{}, nil, persist)
	require.NoError(t, again.Restore(ctx))
	sess, err := again.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestStore_RefreshRacingSignOut(t *testing.T) {
	svc := &fakeService{
		refreshStarted: make(chan struct{}),
		refreshGate:    make(chan struct{}),
	}
	nearExpiry := fixedNow.Add(time.Hour - 30*time.Second)
	store, persist := newTestStore(t, svc, func() time.Time { return nearExpiry })
	ctx := context.Background()
	_, err := store.SignIn(ctx, "ana@example.org", "secret")
	require.NoError(t, err)

	var mu sync.Mutex
	var kinds []domainauth.EventKind
	store.OnAuthStateChange(func(ev domainauth.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	refreshed := make(chan error, 1)
	go func() { refreshed <- store.Refresh(ctx) }()

	<-svc.refreshStarted
	require.NoError(t, store.SignOut(ctx))
	close(svc.refreshGate)
	require.NoError(t, <-refreshed)

	mu.Lock()
	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedOut}, kinds)
	mu.Unlock()
	assert.Nil(t, store.current.Session())
	saved, err := persist.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestStore_RefreshNearExpiry(t *testing.T) {
	now := fixedNow
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store, _ := newTestStore(t, &fakeService{}, clock)
	ctx := context.Background()
	_, err := store.SignIn(ctx, "ana@example.org", "secret")
	require.NoError(t, err)

	var kinds []domainauth.EventKind
	store.OnAuthStateChange(func(ev domainauth.Event) { kinds = append(kinds, ev.Kind) })

	require.NoError(t, store.Refresh(ctx))
	assert.Empty(t, kinds, "far from expiry")

	mu.Lock()
	now = fixedNow.Add(time.Hour - 30*time.Second)
	mu.Unlock()

	require.NoError(t, store.Refresh(ctx))
	assert.Equal(t, []domainauth.EventKind{domainauth.EventTokenRefreshed}, kinds)
	sess := store.current.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "access-2", sess.AccessToken)
}

func TestStore_RefreshRejectedSignsOut(t *testing.T) {
	now := fixedNow.Add(2 * time.Hour)
	store, _ := newTestStore(t, &fakeService{refreshStatus: http.StatusBadRequest}, func() time.Time { return now })
	ctx := context.Background()
	_, err := store.SignIn(ctx, "ana@example.org", "secret")
	require.NoError(t, err)

	require.NoError(t, store.Refresh(ctx))
	assert.Nil(t, store.current.Session())
}

func TestStore_GetSessionRefreshesExpired(t *testing.T) {
	now := fixedNow
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store, _ := newTestStore(t, &fakeService{}, clock)
	ctx := context.Background()
	_, err := store.SignIn(ctx, "ana@example.org", "secret")
	require.NoError(t, err)

	mu.Lock()
	now = fixedNow.Add(2 * time.Hour)
	mu.Unlock()

	sess, err := store.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "access-2", sess.AccessToken)
}

func TestStore_RestoreFromPersistence(t *testing.T) {
	svc := &fakeService{}
	store, persist := newTestStore(t, svc, nil)
	ctx := context.Background()
	require.NoError(t, persist.Save(ctx, domainauth.Session{
		AccessToken: "persisted",
		ExpiresAt:   fixedNow.Add(time.Hour),
		User:        domainauth.User{ID: "user-1", Email: "ana@example.org"},
	}))

	require.NoError(t, store.Restore(ctx))
	sess, err := store.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "persisted", sess.AccessToken)
}

func TestStore_ContextTimeoutMapsToTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	store, err := NewStore(Config{URL: srv.URL, APIKey: testAPIKey, HTTPClient: srv.Client()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = store.SignIn(ctx, "ana@example.org", "secret")
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
}
