package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Sessions SessionController
	Auth     Authenticator
	Admin    AdminGuard // Optional: without it /admin/ denies everyone
	Pages    *Pages
	Config   ClientConfig
	Logger   *slog.Logger // Optional
}

// NewRouter creates and configures the companion server's HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if services.Config.LoginPath == "" {
		services.Config.LoginPath = "/login"
	}

	mux := http.NewServeMux()
	guards := Guards{
		Sessions:  services.Sessions,
		Admin:     services.Admin,
		Pages:     services.Pages,
		LoginPath: services.Config.LoginPath,
	}
	authHandlers := &AuthHandlers{
		Auth:     services.Auth,
		Sessions: services.Sessions,
		Pages:    services.Pages,
		Logger:   logger,
	}
	sessionHandlers := &SessionHandlers{
		Sessions: services.Sessions,
		Admin:    services.Admin,
		Pages:    services.Pages,
		Config:   services.Config,
	}

	mux.Handle("GET /healthz", healthHandler(services.Sessions))
	mux.Handle("HEAD /healthz", healthHandler(services.Sessions))

	registerAuthRoutes(mux, authHandlers, services.Config.LoginPath)
	registerSessionRoutes(mux, sessionHandlers, guards)

	var handler http.Handler = mux
	handler = BrowserDetection()(handler)
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, loginPath string) {
	mux.HandleFunc("GET "+loginPath, h.LoginPage)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/signup", h.Signup)
	mux.HandleFunc("POST /auth/logout", h.Logout)
}

func registerSessionRoutes(mux *http.ServeMux, h *SessionHandlers, g Guards) {
	mux.HandleFunc("GET /api/session", h.Session)
	mux.HandleFunc("GET /api/config", h.ClientConfig)
	mux.Handle("POST /api/profile/refresh", g.RequireUser(http.HandlerFunc(h.RefreshProfile)))

	mux.Handle("GET /app/", g.RequireUser(http.HandlerFunc(h.Home)))
	mux.Handle("GET /admin/", g.RequireAdmin(http.HandlerFunc(h.AdminHome)))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, defaultLanding, http.StatusSeeOther)
	})
}
