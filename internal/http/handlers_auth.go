package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/service"
)

// Authenticator runs explicit credential flows.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*domainauth.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*service.SignUpResult, error)
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Auth     Authenticator
	Sessions SessionController
	Pages    *Pages
	Logger   *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// credentials is accepted as a form post or as JSON.
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
	Username string `json:"username,omitempty"`
	Next     string `json:"next,omitempty"`
}

const defaultLanding = "/app/"

// LoginPage renders the login and signup forms.
// GET /login?next=<optional_redirect>.
func (h *AuthHandlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := landing(r.URL.Query().Get("next"))
	if st := h.Sessions.Snapshot(); st.Authenticated() {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	h.Pages.Render(w, r, http.StatusOK, PageLogin, PageData{Title: "Entrar", Next: next})
}

// Login handles POST /auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readCredentials(w, r)
	if !ok {
		return
	}

	sess, err := h.Auth.SignIn(r.Context(), in.Email, in.Password)
	if err != nil {
		h.credentialError(w, r, in, err)
		return
	}

	if IsBrowserRequest(r) {
		redirect(w, r, landing(in.Next))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"user":       sess.User,
		"expires_at": sess.ExpiresAt,
	})
}

// Signup handles POST /auth/signup.
func (h *AuthHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readCredentials(w, r)
	if !ok {
		return
	}

	metadata := map[string]any{}
	if name := strings.TrimSpace(in.FullName); name != "" {
		metadata["full_name"] = name
	}
	if username := strings.TrimSpace(in.Username); username != "" {
		metadata["username"] = username
	}

	res, err := h.Auth.SignUp(r.Context(), in.Email, in.Password, metadata)
	if err != nil {
		h.credentialError(w, r, in, err)
		return
	}

	if res.ConfirmationRequired {
		if IsBrowserRequest(r) {
			h.Pages.Render(w, r, http.StatusAccepted, PageLogin, PageData{
				Title:  "Entrar",
				Email:  in.Email,
				Next:   landing(in.Next),
				Notice: "Conta criada. Confirme seu email para entrar.",
			})
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]any{"confirmation_required": true})
		return
	}

	if IsBrowserRequest(r) {
		redirect(w, r, landing(in.Next))
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"user":       res.Session.User,
		"expires_at": res.Session.ExpiresAt,
	})
}

// Logout handles POST /auth/logout. The session manager always clears local
// state and asks for a navigation to the login page; the response carries it out.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, nav := WithNavigation(r.Context())
	h.Sessions.Logout(ctx)

	target := nav.Path()
	if target == "" {
		target = "/login"
	}
	if IsBrowserRequest(r) {
		redirect(w, r, target)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out", "redirect_to": target})
}

func (h *AuthHandlers) readCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var in credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return in, DecodeJSON(w, r, &in)
	}
	if err := r.ParseForm(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
		return in, false
	}
	in.Email = r.PostFormValue("email")
	in.Password = r.PostFormValue("password")
	in.FullName = r.PostFormValue("full_name")
	in.Username = r.PostFormValue("username")
	in.Next = r.PostFormValue("next")
	return in, true
}

// credentialError reports a failed sign-in or sign-up. The established
// session is left untouched.
func (h *AuthHandlers) credentialError(w http.ResponseWriter, r *http.Request, in credentials, err error) {
	code := apperrors.GetCode(err)
	if code == "" || code == apperrors.ErrCodeInternal || code == apperrors.ErrCodeUnavailable {
		h.logger().WarnContext(r.Context(), "credential flow failed", "path", r.URL.Path, "error", err)
	}
	if !IsBrowserRequest(r) {
		WriteAppError(w, err)
		return
	}
	h.Pages.Render(w, r, StatusForCode(code), PageLogin, PageData{
		Title: "Entrar",
		Email: in.Email,
		Next:  landing(in.Next),
		Error: loginMessage(code),
	})
}

func loginMessage(code apperrors.ErrorCode) string {
	switch code {
	case apperrors.ErrCodeInvalidCredentials:
		return "Email ou senha inválidos."
	case apperrors.ErrCodeValidation:
		return "Verifique os dados informados."
	case apperrors.ErrCodeTimeout:
		return "O serviço demorou para responder. Tente novamente."
	default:
		return "Não foi possível concluir a operação. Tente novamente."
	}
}

// landing returns a safe post-login destination.
func landing(next string) string {
	if next == "" {
		return defaultLanding
	}
	if p := safeRedirectPath(next); p != "/" {
		return p
	}
	return defaultLanding
}
