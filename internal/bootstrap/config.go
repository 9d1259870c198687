package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/civicpulse/sessionkit/config"
	"github.com/joho/godotenv"
)

// InitLogger initializes the structured logger. Development mode logs at debug level.
func InitLogger(w io.Writer, dev bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := slog.LevelInfo
	if dev {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateConfig checks that the selected auth mode has what it needs.
func ValidateConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.API.BaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}

	switch cfg.Auth.Mode {
	case config.AuthModeIdentity:
		if cfg.Auth.Identity.URL == "" || cfg.Auth.Identity.APIKey == "" {
			return errors.New("AUTH_MODE=identity requires IDENTITY_URL and IDENTITY_API_KEY")
		}
	case config.AuthModeOIDC:
		oauth := cfg.Auth.OAuth
		if oauth.DiscoveryURL == "" || oauth.ClientID == "" || oauth.ClientSecret == "" {
			return errors.New("AUTH_MODE=oidc requires OAUTH_DISCOVERY_URL, OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET")
		}
	case config.AuthModeMock:
		if !cfg.IsDev {
			return errors.New("AUTH_MODE=mock is only allowed in development (DEV=true)")
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}

	if cfg.Persistence.Backend == config.PersistenceRedis && cfg.Redis.URI == "" && !cfg.Redis.UseSentinel {
		return errors.New("SESSION_PERSIST=redis requires REDIS_URI or REDIS_USE_SENTINEL")
	}
	return nil
}
