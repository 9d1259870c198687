package config

import (
	"strings"
	"time"
)

const (
	defaultSafetyTimeout  = 5 * time.Second
	defaultEnrichTimeout  = 2 * time.Second
	defaultSignOutTimeout = 1500 * time.Millisecond
	defaultLoginTimeout   = 6 * time.Second
	defaultAdminCheckWait = 750 * time.Millisecond
)

// SessionConfig bounds every suspension point of the session manager.
type SessionConfig struct {
	// SafetyTimeout unconditionally ends the loading phase after startup.
	SafetyTimeout time.Duration `env:"SAFETY_TIMEOUT" envDefault:"5s"`

	// EnrichTimeout bounds the background profile fetch.
	EnrichTimeout time.Duration `env:"ENRICH_TIMEOUT" envDefault:"2s"`

	// SignOutTimeout bounds the remote sign-out call during logout.
	SignOutTimeout time.Duration `env:"SIGNOUT_TIMEOUT" envDefault:"1500ms"`

	// LoginTimeout bounds explicit sign-in and sign-up calls.
	LoginTimeout time.Duration `env:"LOGIN_TIMEOUT" envDefault:"6s"`

	// AdminCheckWait is how long an admin route waits for the role lookup
	// before answering with the verifying-permissions page.
	AdminCheckWait time.Duration `env:"ADMIN_CHECK_WAIT" envDefault:"750ms"`
}

// Sanitize replaces non-positive durations with defaults.
func (c *SessionConfig) Sanitize() {
	c.SafetyTimeout = positiveOr(c.SafetyTimeout, defaultSafetyTimeout)
	c.EnrichTimeout = positiveOr(c.EnrichTimeout, defaultEnrichTimeout)
	c.SignOutTimeout = positiveOr(c.SignOutTimeout, defaultSignOutTimeout)
	c.LoginTimeout = positiveOr(c.LoginTimeout, defaultLoginTimeout)
	c.AdminCheckWait = positiveOr(c.AdminCheckWait, defaultAdminCheckWait)
}

// ProfileConfig lists the JMESPath expressions tried, in order, against the
// session claims when building the local profile.
type ProfileConfig struct {
	NameClaims     []string `env:"NAME_CLAIMS"     envDefault:"full_name;user_metadata.full_name"  envSeparator:";"`
	UsernameClaims []string `env:"USERNAME_CLAIMS" envDefault:"username;user_metadata.username"    envSeparator:";"`
	AvatarClaims   []string `env:"AVATAR_CLAIMS"   envDefault:"avatar_url;user_metadata.avatar_url" envSeparator:";"`
}

// Sanitize drops blank expressions.
func (c *ProfileConfig) Sanitize() {
	c.NameClaims = compact(c.NameClaims)
	c.UsernameClaims = compact(c.UsernameClaims)
	c.AvatarClaims = compact(c.AvatarClaims)
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
