package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/civicpulse/sessionkit/config"
	"github.com/civicpulse/sessionkit/internal/adapters/authroles"
	"github.com/civicpulse/sessionkit/internal/apiclient"
	httpx "github.com/civicpulse/sessionkit/internal/http"
	"github.com/civicpulse/sessionkit/internal/observability/statsd"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/civicpulse/sessionkit/internal/service"
	"github.com/redis/go-redis/v9"
)

const shutdownWaitTimeout = 10 * time.Second

// AppOptions groups dependencies for NewApp.
type AppOptions struct {
	Config    *config.AppConfig
	Logger    *slog.Logger
	Navigator ports.Navigator // Optional: defaults to the per-request HTTP navigator
}

// App is the wired session client: store adapter, API client, session
// manager, auth service, admin gate and the companion HTTP handler.
type App struct {
	Config   config.AppConfig
	Store    SessionBackend
	Tokens   *apiclient.TokenPropagator
	API      *apiclient.Client
	Sessions *service.SessionManager
	Auth     *service.AuthService
	Admin    *service.AdminGate
	Handler  http.Handler

	logger  *slog.Logger
	metrics *statsd.Client
	redis   redis.UniversalClient

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewApp wires every component from configuration. Nothing runs until Start.
func NewApp(opts AppOptions) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("app config is required")
	}
	cfg := *opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{Config: cfg, logger: logger}
	app.metrics = buildMetrics(logger, cfg.Observability)
	obs := service.Observability{Logger: logger}
	if app.metrics != nil {
		obs.Metrics = app.metrics
	}

	if err := app.wire(cfg, obs, opts.Navigator); err != nil {
		if closeErr := app.closeResources(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}
	return app, nil
}

func (a *App) wire(cfg config.AppConfig, obs service.Observability, nav ports.Navigator) error {
	persistence, redisClient, err := BuildPersistence(PersistenceDeps{
		Persistence: cfg.Persistence,
		Redis:       cfg.Redis,
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("session persistence: %w", err)
	}
	a.redis = redisClient

	httpClient, err := NewHTTPClient(cfg.API.Timeout)
	if err != nil {
		return err
	}

	a.Store, err = BuildSessionStore(AuthConfig{
		Auth:        cfg.Auth,
		Persistence: persistence,
		HTTPClient:  httpClient,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	a.Tokens = apiclient.NewTokenPropagator()
	a.API, err = apiclient.NewClient(apiclient.Options{
		BaseURL:    cfg.API.BaseURL,
		Tokens:     a.Tokens,
		HTTPClient: httpClient,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}

	admin := authroles.NewAdminEmailMatcher(cfg.Auth.AdminEmail)
	resolver, err := service.NewProfileResolver(service.ProfileResolverOptions{
		API: a.API,
		Config: service.ProfileResolverConfig{
			Claims: service.ProfileClaims{
				Name:     cfg.Profile.NameClaims,
				Username: cfg.Profile.UsernameClaims,
				Avatar:   cfg.Profile.AvatarClaims,
			},
			Admin:         admin,
			EnrichTimeout: cfg.Session.EnrichTimeout,
		},
		Obs: obs,
	})
	if err != nil {
		return fmt.Errorf("profile resolver: %w", err)
	}

	if nav == nil {
		nav = &httpx.Navigator{Logger: a.logger}
	}
	a.Sessions = service.NewSessionManager(service.SessionManagerOptions{
		Deps: service.SessionDeps{
			Store:     a.Store,
			Tokens:    a.Tokens,
			Profiles:  resolver,
			Navigator: nav,
		},
		Config: service.SessionManagerConfig{
			SafetyTimeout:  cfg.Session.SafetyTimeout,
			SignOutTimeout: cfg.Session.SignOutTimeout,
			LoginPath:      cfg.HTTP.LoginPath,
		},
		Obs: obs,
	})
	a.Auth = service.NewAuthService(service.AuthServiceOptions{
		Store:  a.Store,
		Config: service.AuthServiceConfig{LoginTimeout: cfg.Session.LoginTimeout},
		Obs:    obs,
	})
	a.Admin = service.NewAdminGate(service.AdminGateOptions{
		Checker: a.API,
		Config:  service.AdminGateConfig{Admin: admin, Wait: cfg.Session.AdminCheckWait},
		Obs:     obs,
	})

	pages, err := httpx.NewPages(cfg.Auth.SupportEmail, a.logger)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	a.Handler = httpx.NewRouter(httpx.RouterServices{
		Sessions: a.Sessions,
		Auth:     a.Auth,
		Admin:    a.Admin,
		Pages:    pages,
		Config: httpx.ClientConfig{
			SupportEmail: cfg.Auth.SupportEmail,
			LoginPath:    cfg.HTTP.LoginPath,
		},
		Logger: a.logger,
	})
	return nil
}

func buildMetrics(logger *slog.Logger, cfg config.ObservabilityConfig) *statsd.Client {
	if !cfg.Metrics.IsEnabled() {
		return nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

// Start reloads any persisted session, starts the session manager and, for
// stores that support it, the background token refresher.
func (a *App) Start(ctx context.Context) error {
	if err := a.Store.Restore(ctx); err != nil {
		a.logger.WarnContext(ctx, "restore persisted session failed", "error", err)
	}
	if err := a.Sessions.Start(ctx); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}

	if r, ok := a.Store.(refresher); ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.cancel = cancel
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			r.Run(runCtx, 0)
		}()
		a.logger.InfoContext(ctx, "background service started", "service", "token refresher")
	}
	return nil
}

// Close stops background work and releases connections. Safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		waitForService(&a.wg, "token refresher", a.logger)
		if a.Sessions != nil {
			a.Sessions.Close()
		}
		a.closeErr = a.closeResources()
	})
	return a.closeErr
}

func (a *App) closeResources() error {
	var errs []error
	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close statsd client: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RunServer starts the app and its HTTP server, then blocks until ctx is
// done, a shutdown signal arrives or the server fails.
func RunServer(ctx context.Context, app *App) error {
	if app == nil {
		return errors.New("app is required")
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	server := StartHTTPServer(app.logger, app.Handler, app.Config.HTTP.Addr, errCh)

	return waitForShutdown(ctx, shutdownConfig{
		errCh:      errCh,
		httpServer: server,
		app:        app,
		logger:     app.logger,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	errCh      <-chan error
	httpServer *http.Server
	app        *App
	logger     *slog.Logger
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(ctx context.Context, cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		return gracefulStop(cfg)
	case <-ctx.Done():
		cfg.logger.Info("context cancelled, shutting down services...")
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops the HTTP server before the session manager so that no
// request observes a closed manager.
func gracefulStop(cfg shutdownConfig) error {
	err := ShutdownHTTPServer(context.Background(), cfg.httpServer, cfg.logger)
	if closeErr := cfg.app.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

// waitForService waits for a background service to finish with timeout.
func waitForService(wg *sync.WaitGroup, name string, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debug(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
