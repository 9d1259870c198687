package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/civicpulse/sessionkit/config"
	"github.com/civicpulse/sessionkit/internal/adapters/devauth"
	"github.com/civicpulse/sessionkit/internal/adapters/identity"
	"github.com/civicpulse/sessionkit/internal/adapters/oidc"
	"github.com/civicpulse/sessionkit/internal/ports"
)

// SessionBackend is a session store that can reload a persisted session.
type SessionBackend interface {
	ports.SessionStore
	Restore(ctx context.Context) error
}

// refresher is implemented by stores that renew access tokens in the background.
type refresher interface {
	Run(ctx context.Context, interval time.Duration)
}

// AuthConfig contains configuration for the session store.
type AuthConfig struct {
	Auth        config.AuthConfig
	Persistence ports.SessionPersistence
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// BuildSessionStore creates the session store for the configured auth mode.
//
//nolint:ireturn // the adapter is chosen at runtime.
func BuildSessionStore(cfg AuthConfig) (SessionBackend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Auth.Mode {
	case config.AuthModeIdentity, "":
		store, err := identity.NewStore(identity.Config{
			URL:           cfg.Auth.Identity.URL,
			APIKey:        cfg.Auth.Identity.APIKey,
			RefreshMargin: cfg.Auth.Identity.RefreshMargin,
			HTTPClient:    cfg.HTTPClient,
			Persistence:   cfg.Persistence,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("identity store: %w", err)
		}
		return store, nil

	case config.AuthModeOIDC:
		return buildOIDCStore(cfg, logger)

	case config.AuthModeMock:
		prov, err := devauth.NewProvider(devauth.Config{
			UserID:      cfg.Auth.DevAuth.UserID,
			Email:       cfg.Auth.DevAuth.Email,
			Password:    cfg.Auth.DevAuth.Password,
			FullName:    cfg.Auth.DevAuth.FullName,
			Persistence: cfg.Persistence,
		})
		if err != nil {
			return nil, fmt.Errorf("dev auth store: %w", err)
		}
		logger.Warn("using development session store", "email", cfg.Auth.DevAuth.Email)
		return prov, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

func buildOIDCStore(cfg AuthConfig, logger *slog.Logger) (*oidc.Provider, error) {
	// Only enable when fully configured
	oauth := cfg.Auth.OAuth
	if oauth.DiscoveryURL == "" || oauth.ClientID == "" || oauth.ClientSecret == "" {
		logger.Warn("AuthModeOIDC selected but required config missing",
			"discovery_url_empty", oauth.DiscoveryURL == "",
			"client_id_empty", oauth.ClientID == "",
			"client_secret_empty", oauth.ClientSecret == "",
		)
		return nil, errors.New("oidc store: discovery URL, client ID and client secret are required")
	}

	prov, err := oidc.NewProvider(oidc.ProviderConfig{
		ClientID:     oauth.ClientID,
		ClientSecret: oauth.ClientSecret,
		Scope:        oauth.Scope,
		DiscoveryURL: oauth.DiscoveryURL,
		LogoutURL:    oauth.LogoutURL,
		HTTPClient:   cfg.HTTPClient,
		Persistence:  cfg.Persistence,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("oidc store: %w", err)
	}
	return prov, nil
}
