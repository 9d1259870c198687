package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionHandlers_Session(t *testing.T) {
	h := &SessionHandlers{Sessions: &stubSessions{state: signedInState("u1", "u1@example.org")}}
	rec := httptest.NewRecorder()
	h.Session(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domainauth.PhaseAuthenticated, body.Phase)
	assert.Equal(t, uint64(1), body.Generation)
	require.NotNil(t, body.Profile)
	assert.Equal(t, "Ana Souza", body.Profile.FullName)
}

func TestSessionHandlers_SessionBootstrapping(t *testing.T) {
	h := &SessionHandlers{Sessions: &stubSessions{state: domainauth.State{Loading: true}}}
	rec := httptest.NewRecorder()
	h.Session(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	assert.JSONEq(t, `{"phase":"bootstrapping","loading":true,"generation":0,"user":null,"profile":null}`, rec.Body.String())
}

func TestSessionHandlers_RefreshProfile(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		sessions := &stubSessions{refreshFunc: func(context.Context) (domainauth.Profile, error) {
			return domainauth.Profile{ID: "u1", FullName: "Ana Renamed"}, nil
		}}
		h := &SessionHandlers{Sessions: sessions}
		rec := httptest.NewRecorder()
		h.RefreshProfile(rec, httptest.NewRequest(http.MethodPost, "/api/profile/refresh", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"full_name":"Ana Renamed"`)
	})

	t.Run("error", func(t *testing.T) {
		sessions := &stubSessions{refreshFunc: func(context.Context) (domainauth.Profile, error) {
			return domainauth.Profile{}, apperrors.Unauthenticated("no active session")
		}}
		h := &SessionHandlers{Sessions: sessions}
		rec := httptest.NewRecorder()
		h.RefreshProfile(rec, httptest.NewRequest(http.MethodPost, "/api/profile/refresh", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"unauthenticated","message":"no active session"}`, rec.Body.String())
	})
}

func TestSessionHandlers_ClientConfig(t *testing.T) {
	h := &SessionHandlers{Config: ClientConfig{SupportEmail: "suporte@example.org", LoginPath: "/login"}}
	rec := httptest.NewRecorder()
	h.ClientConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	assert.JSONEq(t, `{"support_email":"suporte@example.org","login_path":"/login"}`, rec.Body.String())
}

func TestSessionHandlers_Home(t *testing.T) {
	st := signedInState("u1", "u1@example.org")
	avatar := "https://img.example.org/a.png"
	st.Profile.AvatarURL = &avatar
	st.Profile.IsAdmin = true
	h := &SessionHandlers{Pages: newTestPages(t)}

	req := httptest.NewRequest(http.MethodGet, "/app/", nil)
	req = req.WithContext(SetStateInContext(req.Context(), st))
	rec := httptest.NewRecorder()
	h.Home(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Olá, Ana Souza")
	assert.Contains(t, body, `src="https://img.example.org/a.png"`)
	assert.Contains(t, body, `href="/admin/"`)
}

func TestHealthHandler(t *testing.T) {
	sessions := &stubSessions{state: domainauth.State{Loading: true}}

	rec := httptest.NewRecorder()
	healthHandler(sessions)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","phase":"bootstrapping"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	healthHandler(sessions)(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Zero(t, rec.Body.Len())
}

func TestNavigator(t *testing.T) {
	n := &Navigator{Logger: discardLogger()}
	ctx, nav := WithNavigation(context.Background())
	n.Navigate(ctx, "/login")
	assert.Equal(t, "/login", nav.Path())

	assert.NotPanics(t, func() { n.Navigate(context.Background(), "/login") })
}
