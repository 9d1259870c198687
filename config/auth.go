package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode selects the session store backing the client.
type AuthMode string

const (
	// AuthModeIdentity uses the hosted identity REST service.
	AuthModeIdentity AuthMode = "identity"
	// AuthModeOIDC uses an OIDC provider through the password grant.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeMock uses a config-driven local identity (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "identity", "oidc", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: identity, oidc, mock)", v)
	}
}

// IdentityConfig configures the hosted identity service adapter.
type IdentityConfig struct {
	URL    string `env:"URL"`
	APIKey string `env:"API_KEY"`
	// RefreshMargin is how long before expiry the access token is refreshed.
	RefreshMargin time.Duration `env:"REFRESH_MARGIN" envDefault:"60s"`
}

// OAuthConfig contains OIDC configuration for the password grant adapter.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	LogoutURL    string `env:"LOGOUT_URL"`
}

// DevAuthConfig controls mock/dev authentication identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID   string `env:"USER_ID"   envDefault:"dev-user"`
	Email    string `env:"EMAIL"     envDefault:"dev@example.com"`
	Password string `env:"PASSWORD"  envDefault:"dev"`
	FullName string `env:"FULL_NAME" envDefault:"Dev User"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which session store to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"identity"`

	Identity IdentityConfig `envPrefix:"IDENTITY_"`
	OAuth    OAuthConfig    `envPrefix:"OAUTH_"`
	DevAuth  DevAuthConfig  `envPrefix:"DEV_AUTH_"`

	// AdminEmail is the single address granted admin rights without a role lookup.
	AdminEmail string `env:"ADMIN_EMAIL"`

	// SupportEmail is shown on access-denied pages.
	SupportEmail string `env:"SUPPORT_EMAIL" envDefault:"suporte@example.com"`
}

// Sanitize trims addresses and applies defaults.
func (a *AuthConfig) Sanitize() {
	a.AdminEmail = strings.TrimSpace(a.AdminEmail)
	a.SupportEmail = strings.TrimSpace(a.SupportEmail)
	a.Identity.URL = strings.TrimRight(strings.TrimSpace(a.Identity.URL), "/")
	if a.Identity.RefreshMargin <= 0 {
		a.Identity.RefreshMargin = 60 * time.Second
	}
	if a.Mode == "" {
		a.Mode = AuthModeIdentity
	}
}
