package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/civicpulse/sessionkit/internal/adapters/authroles"
	"github.com/civicpulse/sessionkit/internal/apiclient"
	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	mocks "github.com/civicpulse/sessionkit/internal/mocks/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/civicpulse/sessionkit/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type routerFixture struct {
	store   *mocks.FakeSessionStore
	checker *ports.MockAdminChecker
	mgr     *service.SessionManager
	handler http.Handler
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	api := ports.NewMockProfileAPI(ctrl)
	api.EXPECT().GetProfile(gomock.Any()).Return(nil, nil).AnyTimes()
	checker := ports.NewMockAdminChecker(ctrl)

	obs := service.Observability{Logger: discardLogger()}
	admin := authroles.NewAdminEmailMatcher("admin@example.org")
	resolver, err := service.NewProfileResolver(service.ProfileResolverOptions{
		API:    api,
		Config: service.ProfileResolverConfig{Admin: admin},
		Obs:    obs,
	})
	require.NoError(t, err)

	store := mocks.NewFakeSessionStore()
	store.Password = "secret1"
	mgr := service.NewSessionManager(service.SessionManagerOptions{
		Deps: service.SessionDeps{
			Store:     store,
			Tokens:    apiclient.NewTokenPropagator(),
			Profiles:  resolver,
			Navigator: &Navigator{Logger: discardLogger()},
		},
		Obs: obs,
	})
	t.Cleanup(mgr.Close)

	handler := NewRouter(RouterServices{
		Sessions: mgr,
		Auth:     service.NewAuthService(service.AuthServiceOptions{Store: store, Obs: obs}),
		Admin: service.NewAdminGate(service.AdminGateOptions{
			Checker: checker,
			Config:  service.AdminGateConfig{Admin: admin, Wait: 200 * time.Millisecond},
			Obs:     obs,
		}),
		Pages:  newTestPages(t),
		Config: ClientConfig{SupportEmail: "suporte@example.org"},
		Logger: discardLogger(),
	})
	return &routerFixture{store: store, checker: checker, mgr: mgr, handler: handler}
}

func (f *routerFixture) browser(method, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if form != nil {
		req = formRequest(target, form)
	}
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) phase(t *testing.T) domainauth.Phase {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	var body sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Phase
}

func TestRouter_SessionLifecycle(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.browser(http.MethodGet, "/app/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "still bootstrapping")

	require.NoError(t, f.mgr.Start(context.Background()))
	_, err := f.mgr.WaitReady(context.Background())
	require.NoError(t, err)

	rec = f.browser(http.MethodGet, "/app/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fapp%2F", rec.Header().Get("Location"))

	rec = f.browser(http.MethodPost, "/auth/login", url.Values{"email": {"ana@example.org"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domainauth.PhaseAnonymous, f.phase(t))

	rec = f.browser(http.MethodPost, "/auth/login", url.Values{"email": {"ana@example.org"}, "password": {"secret1"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/app/", rec.Header().Get("Location"))
	assert.Equal(t, domainauth.PhaseAuthenticated, f.phase(t))

	rec = f.browser(http.MethodGet, "/app/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Olá, "+service.DefaultDisplayName)

	f.checker.EXPECT().IsAdmin(gomock.Any(), "user-ana@example.org").Return(false, nil).AnyTimes()
	rec = f.browser(http.MethodGet, "/admin/", nil)
	// Fake sessions are unconfirmed, so the role lookup is skipped and access denied.
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Voltar")

	rec = f.browser(http.MethodPost, "/auth/logout", url.Values{})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Equal(t, domainauth.PhaseAnonymous, f.phase(t))
}

func TestRouter_AdminShortcut(t *testing.T) {
	f := newRouterFixture(t)
	f.store.SetSession(mocks.NewSession("root", "admin@example.org", nil))
	require.NoError(t, f.mgr.Start(context.Background()))
	_, err := f.mgr.WaitReady(context.Background())
	require.NoError(t, err)

	rec := f.browser(http.MethodGet, "/admin/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Painel administrativo")
}

func TestRouter_RootAndHealth(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.browser(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/app/", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	assert.JSONEq(t, `{"support_email":"suporte@example.org","login_path":"/login"}`, rec.Body.String())
}
