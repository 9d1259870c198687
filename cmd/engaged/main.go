package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/civicpulse/sessionkit/config"
	"github.com/civicpulse/sessionkit/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger(os.Stdout, false)
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.IsDev {
		logger = bootstrap.InitLogger(os.Stdout, true)
	}

	logStartupInfo(ctx, logger, &cfg)

	if err = bootstrap.ValidateConfig(&cfg); err != nil {
		return err
	}

	app, err := bootstrap.NewApp(bootstrap.AppOptions{Config: &cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close app failed", "error", cerr)
		}
	}()

	return bootstrap.RunServer(ctx, app)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting engaged",
		"auth_mode", cfg.Auth.Mode,
		"api_base_url", cfg.API.BaseURL,
		"session_persist", cfg.Persistence.Backend,
		"http_addr", cfg.HTTP.Addr,
		"metrics_enabled", cfg.Observability.Metrics.IsEnabled(),
		"dev", cfg.IsDev)
}
