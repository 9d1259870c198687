package httpx

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
)

//go:embed pages/*.html
var pageFS embed.FS

// Page names.
const (
	PageLogin     = "login"
	PageLoading   = "loading"
	PageVerifying = "verifying"
	PageDenied    = "denied"
	PageHome      = "home"
	PageAdmin     = "admin"
)

// pageFiles maps a page to the content template it renders inside the layout.
//
//nolint:gochecknoglobals // static read-only lookup
var pageFiles = map[string]string{
	PageLogin:     "pages/login.html",
	PageLoading:   "pages/loading.html",
	PageVerifying: "pages/loading.html",
	PageDenied:    "pages/denied.html",
	PageHome:      "pages/home.html",
	PageAdmin:     "pages/admin.html",
}

// PageData is the view model shared by every page.
type PageData struct {
	Title        string
	SupportEmail string
	// Refresh, when set, makes the page reload itself after that many seconds.
	Refresh int

	Message string
	Error   string
	Notice  string
	Email   string
	Next    string
	Back    string
	Admin   bool
	Profile *domainauth.Profile
}

// Pages renders the server's HTML pages.
type Pages struct {
	set          map[string]*template.Template
	supportEmail string
	logger       *slog.Logger
}

// NewPages parses the embedded page templates.
func NewPages(supportEmail string, logger *slog.Logger) (*Pages, error) {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]*template.Template, len(pageFiles))
	for name, file := range pageFiles {
		t, err := template.ParseFS(pageFS, "pages/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		set[name] = t
	}
	return &Pages{set: set, supportEmail: supportEmail, logger: logger}, nil
}

// Render writes page with the given status. Rendering happens into a buffer
// so a template error can still produce a clean 500.
func (p *Pages) Render(w http.ResponseWriter, r *http.Request, status int, page string, data PageData) {
	t, ok := p.set[page]
	if !ok {
		p.logger.ErrorContext(r.Context(), "unknown page", "page", page)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if data.SupportEmail == "" {
		data.SupportEmail = p.supportEmail
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		p.logger.ErrorContext(r.Context(), "render page failed", "page", page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		return
	}
}
