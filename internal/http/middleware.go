package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/service"
)

// retryAfterSeconds is advertised while the session or the role check is settling.
const retryAfterSeconds = 1

// SessionSource exposes the current client session.
type SessionSource interface {
	Snapshot() domainauth.State
}

// AdminGuard decides admin access for a session snapshot.
type AdminGuard interface {
	Check(ctx context.Context, st domainauth.State) service.AdminDecision
}

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// browserRequestKey is an unexported context key type for browser request detection.
type browserRequestKey struct{}

// BrowserDetection returns a middleware that detects browser requests vs API requests.
// Guards and handlers use it to choose between pages and JSON.
func BrowserDetection() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), browserRequestKey{}, isBrowserRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsBrowserRequest returns true if the current request is from a browser.
func IsBrowserRequest(r *http.Request) bool {
	if val, ok := r.Context().Value(browserRequestKey{}).(bool); ok {
		return val
	}
	return isBrowserRequest(r)
}

// isBrowserRequest treats /api/ paths and callers asking for JSON as API
// requests; everything else, including htmx, is a browser.
func isBrowserRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	if IsHTMX(r) {
		return true
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
	}
	return strings.Contains(accept, "text/html")
}

// Guards holds what the route guards need.
type Guards struct {
	Sessions  SessionSource
	Admin     AdminGuard // Optional: RequireAdmin denies everyone when nil
	Pages     *Pages
	LoginPath string
}

// RequireUser admits requests only once the session has settled on a
// signed-in user. While the session is still loading it answers 503 with
// Retry-After; without a user browsers are sent to the login page and API
// callers get 401.
func (g Guards) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := g.admit(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(SetStateInContext(r.Context(), st)))
	})
}

// RequireAdmin applies RequireUser, then the admin check. A check that has
// not answered yet yields a distinct "verifying permissions" response; a
// denial renders an access-denied page with a link back, never a redirect.
func (g Guards) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := g.admit(w, r)
		if !ok {
			return
		}

		decision := service.AdminDenied
		if g.Admin != nil {
			decision = g.Admin.Check(r.Context(), st)
		}
		switch decision {
		case service.AdminAllowed:
			next.ServeHTTP(w, r.WithContext(SetStateInContext(r.Context(), st)))
		case service.AdminPending:
			g.writeSettling(w, r, PageVerifying, "Verificando permissões...")
		default:
			g.writeDenied(w, r)
		}
	})
}

func (g Guards) admit(w http.ResponseWriter, r *http.Request) (domainauth.State, bool) {
	st := g.Sessions.Snapshot()
	switch {
	case st.Loading:
		g.writeSettling(w, r, PageLoading, "Carregando...")
		return st, false
	case st.User == nil:
		if IsBrowserRequest(r) {
			g.redirectToLogin(w, r)
			return st, false
		}
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return st, false
	}
	return st, true
}

func (g Guards) writeSettling(w http.ResponseWriter, r *http.Request, page, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	if !IsBrowserRequest(r) || g.Pages == nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: page,
			Err:     errors.New(message),
		})
		return
	}
	g.Pages.Render(w, r, http.StatusServiceUnavailable, page, PageData{
		Title:   message,
		Message: message,
		Refresh: retryAfterSeconds,
	})
}

func (g Guards) writeDenied(w http.ResponseWriter, r *http.Request) {
	if !IsBrowserRequest(r) || g.Pages == nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusForbidden,
			ErrCode: "insufficient_permissions",
			Err:     errors.New("insufficient permissions"),
		})
		return
	}
	g.Pages.Render(w, r, http.StatusForbidden, PageDenied, PageData{
		Title: "Acesso negado",
		Back:  backLink(r),
	})
}

// redirectToLogin sends the browser to the login page with the current URL as next.
func (g Guards) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	loginPath := g.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}
	target := loginPath + "?next=" + url.QueryEscape(safeRedirectPath(r.URL.RequestURI()))
	redirect(w, r, target)
}

// backLink returns a same-origin page to go back to, preferring the referer.
func backLink(r *http.Request) string {
	if ref := r.Header.Get("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && (u.Host == "" || u.Host == r.Host) {
			if back := safeRedirectPath(u.RequestURI()); back != r.URL.RequestURI() {
				return back
			}
		}
	}
	return "/app/"
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(candidate, "//") {
		return "/"
	}
	return candidate
}
