package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/observability/metrics"
	"github.com/civicpulse/sessionkit/internal/observability/statsd"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/civicpulse/sessionkit/internal/util"
)

const (
	defaultLoginTimeout = 6 * time.Second
	minPasswordLength   = 6

	opSignIn = "sign_in"
	opSignUp = "sign_up"
)

// AuthServiceConfig bounds explicit credential flows.
type AuthServiceConfig struct {
	LoginTimeout time.Duration // default 6s
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Store  ports.SessionStore // Required
	Config AuthServiceConfig
	Obs    Observability
}

// AuthService runs sign-in and sign-up against the session store. It never
// touches client session state directly: a successful call makes the store
// emit an event, which the SessionManager applies.
type AuthService struct {
	store   ports.SessionStore
	timeout time.Duration
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	if opts.Store == nil {
		panic("SessionStore is required")
	}
	timeout := opts.Config.LoginTimeout
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	return &AuthService{
		store:   opts.Store,
		timeout: timeout,
		logger:  opts.Obs.logger("auth_service"),
		metrics: opts.Obs.Metrics,
	}
}

// SignUpResult reports whether the new account can be used right away.
type SignUpResult struct {
	Session *domainauth.Session
	// ConfirmationRequired is set when the identity service withheld a
	// session until the email address is confirmed.
	ConfirmationRequired bool
}

// SignIn authenticates with email and password.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperrors.ValidationField("password", "password is required")
	}

	start := time.Now()
	out := util.Within(ctx, s.timeout, func(ctx context.Context) (*domainauth.Session, error) {
		return s.store.SignIn(ctx, email, password)
	})
	if err := s.finish(ctx, opSignIn, out.Status, out.Err, time.Since(start)); err != nil {
		return nil, err
	}
	if out.Value == nil {
		return nil, apperrors.Internalf("sign in returned no session")
	}
	return out.Value, nil
}

// SignUp registers an account. metadata is stored with the user and becomes
// part of its claims (full_name, username).
func (s *AuthService) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.ValidationField("password", "password must be at least 6 characters")
	}

	start := time.Now()
	out := util.Within(ctx, s.timeout, func(ctx context.Context) (*domainauth.Session, error) {
		return s.store.SignUp(ctx, email, password, metadata)
	})
	if err := s.finish(ctx, opSignUp, out.Status, out.Err, time.Since(start)); err != nil {
		return nil, err
	}
	return &SignUpResult{Session: out.Value, ConfirmationRequired: out.Value == nil}, nil
}

// finish records the attempt and normalises its error for callers.
func (s *AuthService) finish(ctx context.Context, op string, status util.Status, err error, took time.Duration) error {
	res := metrics.Outcome{Duration: took, Err: err}
	switch status {
	case util.StatusOK:
		res.Result = metrics.ResultSuccess
		metrics.EmitLogin(s.metrics, op, res)
		return nil
	case util.StatusTimedOut:
		res.Result = metrics.ResultTimeout
		metrics.EmitLogin(s.metrics, op, res)
		s.logger.WarnContext(ctx, "credential request timed out", "op", op, "timeout", s.timeout.String())
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "the identity service took too long to respond")
	}

	res.Result = metrics.ResultError
	metrics.EmitLogin(s.metrics, op, res)
	if apperrors.GetCode(err) != "" {
		return err
	}
	if ctxErr := apperrors.FromContext(err, op); apperrors.GetCode(ctxErr) != "" {
		return ctxErr
	}
	s.logger.WarnContext(ctx, "credential request failed", "op", op, "error", err)
	return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "identity service unavailable")
}

func validateEmail(email string) error {
	if email == "" {
		return apperrors.ValidationField("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperrors.ValidationField("email", "email is invalid")
	}
	return nil
}
