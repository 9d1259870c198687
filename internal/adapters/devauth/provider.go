package devauth

// Package devauth provides a simple, config-driven SessionStore for local development.

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/civicpulse/sessionkit/internal/adapters/sessionhub"
	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/google/uuid"
)

// Config controls the dev session store behavior.
// UserID, Email and Password are required.
type Config struct {
	UserID          string
	Email           string
	Password        string
	FullName        string
	SessionDuration time.Duration // default 8h when zero
	Persistence     ports.SessionPersistence
	Now             func() time.Time
}

type account struct {
	user     domainauth.User
	password string
}

// Provider implements ports.SessionStore for local development. It accepts
// the configured identity plus any account registered through SignUp during
// the process lifetime. Tokens are random UUIDs.
type Provider struct {
	sessionDuration time.Duration
	now             func() time.Time
	current         *sessionhub.Current

	mu       sync.Mutex
	accounts map[string]account // keyed by lower-cased email
}

var _ ports.SessionStore = (*Provider)(nil)

// NewProvider constructs a dev session store from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("dev auth: Password is required")
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	confirmed := now().UTC()
	claims := map[string]any{}
	if cfg.FullName != "" {
		claims["full_name"] = cfg.FullName
	}
	p := &Provider{
		sessionDuration: dur,
		now:             now,
		current:         sessionhub.NewCurrent(sessionhub.CurrentOptions{Persistence: cfg.Persistence, Now: now}),
		accounts: map[string]account{
			strings.ToLower(cfg.Email): {
				user: domainauth.User{
					ID:               cfg.UserID,
					Email:            cfg.Email,
					EmailConfirmedAt: &confirmed,
					Claims:           claims,
				},
				password: cfg.Password,
			},
		},
	}
	return p, nil
}

// Restore loads a persisted session, if any.
func (p *Provider) Restore(ctx context.Context) error {
	_, err := p.current.Restore(ctx)
	return err
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	p.mu.Lock()
	acct, ok := p.accounts[strings.ToLower(strings.TrimSpace(email))]
	p.mu.Unlock()
	if !ok || acct.password != password {
		return nil, apperrors.InvalidCredentials("invalid login credentials")
	}
	sess := p.issue(acct.user)
	p.current.Set(ctx, domainauth.EventSignedIn, sess)
	return &sess, nil
}

// SignUp registers an unconfirmed account and signs it in immediately.
func (p *Provider) SignUp(
	ctx context.Context,
	email, password string,
	metadata map[string]any,
) (*domainauth.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}
	key := strings.ToLower(email)

	claims := make(map[string]any, len(metadata))
	for k, v := range metadata {
		claims[k] = v
	}
	user := domainauth.User{ID: uuid.NewString(), Email: email, Claims: claims}

	p.mu.Lock()
	if _, exists := p.accounts[key]; exists {
		p.mu.Unlock()
		return nil, apperrors.ValidationField("email", "user already registered")
	}
	p.accounts[key] = account{user: user, password: password}
	p.mu.Unlock()

	sess := p.issue(user)
	p.current.Set(ctx, domainauth.EventSignedIn, sess)
	return &sess, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.current.Clear(ctx)
	return nil
}

func (p *Provider) GetCurrentUser(ctx context.Context) (*domainauth.User, error) {
	sess, err := p.GetSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	return &sess.User, nil
}

// GetSession returns the held session. Expired sessions are dropped.
func (p *Provider) GetSession(ctx context.Context) (*domainauth.Session, error) {
	if sess := p.current.Valid(); sess != nil {
		return sess, nil
	}
	if p.current.Session() != nil {
		p.current.Clear(ctx)
	}
	return nil, nil
}

func (p *Provider) OnAuthStateChange(fn func(domainauth.Event)) ports.Unsubscribe {
	return p.current.Subscribe(fn)
}

func (p *Provider) issue(user domainauth.User) domainauth.Session {
	return domainauth.Session{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    p.now().Add(p.sessionDuration),
		User:         user,
	}
}
