package httpx

import (
	"context"
	"net/http"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
)

// SessionController is the slice of the session manager the handlers drive.
type SessionController interface {
	SessionSource
	RefreshProfile(ctx context.Context) (domainauth.Profile, error)
	Logout(ctx context.Context)
}

// ClientConfig is the public configuration exposed to local consumers.
type ClientConfig struct {
	SupportEmail string `json:"support_email,omitempty"`
	LoginPath    string `json:"login_path"`
}

// SessionHandlers exposes the client session to local consumers.
type SessionHandlers struct {
	Sessions SessionController
	Admin    AdminGuard
	Pages    *Pages
	Config   ClientConfig
}

type sessionResponse struct {
	Phase      domainauth.Phase    `json:"phase"`
	Loading    bool                `json:"loading"`
	Generation uint64              `json:"generation"`
	User       *domainauth.User    `json:"user"`
	Profile    *domainauth.Profile `json:"profile"`
}

// Session handles GET /api/session.
func (h *SessionHandlers) Session(w http.ResponseWriter, _ *http.Request) {
	st := h.Sessions.Snapshot()
	WriteJSON(w, http.StatusOK, sessionResponse{
		Phase:      st.Phase(),
		Loading:    st.Loading,
		Generation: st.Generation,
		User:       st.User,
		Profile:    st.Profile,
	})
}

// RefreshProfile handles POST /api/profile/refresh.
func (h *SessionHandlers) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Sessions.RefreshProfile(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// ClientConfig handles GET /api/config.
func (h *SessionHandlers) ClientConfig(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.Config)
}

// Home renders the signed-in landing page. GET /app/.
func (h *SessionHandlers) Home(w http.ResponseWriter, r *http.Request) {
	st, _ := StateFromContext(r.Context())
	admin := st.Profile != nil && st.Profile.IsAdmin
	h.Pages.Render(w, r, http.StatusOK, PageHome, PageData{
		Title:   "Início",
		Profile: st.Profile,
		Admin:   admin,
	})
}

// AdminHome renders the admin landing page. GET /admin/.
func (h *SessionHandlers) AdminHome(w http.ResponseWriter, r *http.Request) {
	p, _ := ProfileFromContext(r.Context())
	h.Pages.Render(w, r, http.StatusOK, PageAdmin, PageData{Title: "Administração", Profile: p})
}
