package config

import "strings"

// HTTPConfig contains the companion HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	// Defaults to loopback: the server owns a single user's session.
	Addr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8090"`

	// BaseURL is the externally visible base URL of the companion server.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://127.0.0.1:8090"`

	// LoginPath is where logout and unauthenticated browser requests land.
	LoginPath string `env:"APP_LOGIN_PATH" envDefault:"/login"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if strings.TrimSpace(h.Addr) == "" {
		h.Addr = "127.0.0.1:8090"
	}
	if !strings.HasPrefix(h.LoginPath, "/") {
		h.LoginPath = "/login"
	}
}
