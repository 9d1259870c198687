package identity

// Package identity implements ports.SessionStore against a hosted identity
// REST service (password grant, signup, logout, user lookup, refresh grant).

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/civicpulse/sessionkit/internal/adapters/sessionhub"
	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/ports"
)

const defaultRefreshMargin = 60 * time.Second

// errSessionChanged reports that the held session was signed out or replaced
// while a refresh was in flight.
var errSessionChanged = errors.New("session changed during refresh")

// Config holds configuration for the identity store.
type Config struct {
	URL    string
	APIKey string
	// RefreshMargin is how long before expiry Refresh renews the access token.
	RefreshMargin time.Duration
	HTTPClient    *http.Client // Optional, defaults to a client with a 30s timeout
	Persistence   ports.SessionPersistence
	Logger        *slog.Logger
	Now           func() time.Time
}

// Store is a session store backed by the identity REST service.
type Store struct {
	base    *url.URL
	apiKey  string
	margin  time.Duration
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
	current *sessionhub.Current
}

var _ ports.SessionStore = (*Store)(nil)

// NewStore validates cfg and returns a Store with no session loaded. Call
// Restore to pick up a persisted session.
func NewStore(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("identity URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("identity API key is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse identity URL: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	return &Store{
		base:   base,
		apiKey: cfg.APIKey,
		margin: margin,
		client: client,
		logger: logger.With("component", "identity_store"),
		now:    now,
		current: sessionhub.NewCurrent(sessionhub.CurrentOptions{
			Persistence: cfg.Persistence,
			Logger:      logger,
			Now:         now,
		}),
	}, nil
}

// Restore loads a persisted session, if any.
func (s *Store) Restore(ctx context.Context) error {
	_, err := s.current.Restore(ctx)
	return err
}

func (s *Store) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}
	var tok tokenResponse
	err := s.call(ctx, http.MethodPost, "token", url.Values{"grant_type": {"password"}}, "",
		map[string]string{"email": email, "password": password}, &tok)
	if err != nil {
		return nil, err
	}
	sess, err := tok.session(s.now())
	if err != nil {
		return nil, err
	}
	s.current.Set(ctx, domainauth.EventSignedIn, sess)
	return &sess, nil
}

func (s *Store) SignUp(
	ctx context.Context,
	email, password string,
	metadata map[string]any,
) (*domainauth.Session, error) {
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	var raw json.RawMessage
	if err := s.call(ctx, http.MethodPost, "signup", nil, "", body, &raw); err != nil {
		return nil, err
	}

	// With email confirmation enabled the service answers with the bare user.
	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode signup response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, nil
	}
	sess, err := tok.session(s.now())
	if err != nil {
		return nil, err
	}
	s.current.Set(ctx, domainauth.EventSignedIn, sess)
	return &sess, nil
}

// SignOut drops the session locally, then revokes it remotely. The local
// drop does not depend on the remote call finishing. An already-invalid token
// on the service side is not an error.
func (s *Store) SignOut(ctx context.Context) error {
	sess := s.current.Session()
	s.current.Clear(ctx)
	if sess == nil {
		return nil
	}
	err := s.call(ctx, http.MethodPost, "logout", nil, sess.AccessToken, nil, nil)
	if err != nil && !apperrors.IsUnauthenticated(err) && !apperrors.IsNotFound(err) {
		return fmt.Errorf("identity logout: %w", err)
	}
	return nil
}

func (s *Store) GetCurrentUser(ctx context.Context) (*domainauth.User, error) {
	sess, err := s.GetSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	var wu wireUser
	if err := s.call(ctx, http.MethodGet, "user", nil, sess.AccessToken, nil, &wu); err != nil {
		return nil, err
	}
	user := wu.toDomain()
	if !sameUser(sess.User, user) {
		next := *sess
		next.User = user
		s.current.Replace(ctx, domainauth.EventUserUpdated, *sess, next)
	}
	return &user, nil
}

// GetSession returns the held session, refreshing it first when it is expired.
func (s *Store) GetSession(ctx context.Context) (*domainauth.Session, error) {
	sess := s.current.Session()
	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(s.now()) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		s.current.Clear(ctx)
		return nil, nil
	}
	refreshed, err := s.refresh(ctx, *sess)
	switch {
	case errors.Is(err, errSessionChanged):
		return s.current.Valid(), nil
	case apperrors.IsInvalidCredentials(err) || apperrors.IsUnauthenticated(err):
		s.current.ClearIf(ctx, *sess)
		return nil, nil
	case err != nil:
		return nil, err
	}
	return refreshed, nil
}

func (s *Store) OnAuthStateChange(fn func(domainauth.Event)) ports.Unsubscribe {
	return s.current.Subscribe(fn)
}

// Refresh renews the access token when it expires within the refresh margin.
// A rejected refresh token signs the session out.
func (s *Store) Refresh(ctx context.Context) error {
	sess := s.current.Session()
	if sess == nil || sess.RefreshToken == "" {
		return nil
	}
	if sess.ExpiresAt.IsZero() || sess.ExpiresAt.Sub(s.now()) > s.margin {
		return nil
	}
	_, err := s.refresh(ctx, *sess)
	switch {
	case errors.Is(err, errSessionChanged):
		s.logger.DebugContext(ctx, "session changed during refresh; result dropped")
		return nil
	case apperrors.IsInvalidCredentials(err) || apperrors.IsUnauthenticated(err):
		if s.current.ClearIf(ctx, *sess) {
			s.logger.InfoContext(ctx, "refresh token rejected, signing out", "error", err)
		}
		return nil
	}
	return err
}

// Run calls Refresh every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.margin / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.WarnContext(ctx, "token refresh failed", "error", err)
			}
		}
	}
}

// refresh exchanges prev's refresh token and installs the result only while
// prev is still the held session.
func (s *Store) refresh(ctx context.Context, prev domainauth.Session) (*domainauth.Session, error) {
	var tok tokenResponse
	err := s.call(ctx, http.MethodPost, "token", url.Values{"grant_type": {"refresh_token"}}, "",
		map[string]string{"refresh_token": prev.RefreshToken}, &tok)
	if err != nil {
		return nil, err
	}
	sess, err := tok.session(s.now())
	if err != nil {
		return nil, err
	}
	if !s.current.Replace(ctx, domainauth.EventTokenRefreshed, prev, sess) {
		return nil, errSessionChanged
	}
	return &sess, nil
}

func (s *Store) call(
	ctx context.Context,
	method, path string,
	query url.Values,
	bearer string,
	body, out any,
) error {
	u := s.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := apperrors.FromContext(err, "identity "+path); apperrors.GetCode(ctxErr) != "" {
			return ctxErr
		}
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "identity service unreachable")
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close response body", "error", cerr)
		}
	}()

	if resp.StatusCode >= 300 {
		return decodeError(path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorCode        string `json:"error_code"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func decodeError(path string, resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
	msg := eb.text()
	if msg == "" {
		msg = fmt.Sprintf("identity %s: status %d", path, resp.StatusCode)
	}

	switch {
	case path == "token" && (resp.StatusCode == http.StatusBadRequest || eb.Error == "invalid_grant"):
		return apperrors.InvalidCredentials(msg)
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.Unauthenticated(msg)
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound(msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return apperrors.Validation(msg)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return apperrors.New(apperrors.ErrCodeTimeout, msg)
	default:
		return apperrors.New(apperrors.ErrCodeUnavailable, msg)
	}
}

func sameUser(a, b domainauth.User) bool {
	if a.ID != b.ID || a.Email != b.Email || a.EmailConfirmed() != b.EmailConfirmed() {
		return false
	}
	ab, _ := json.Marshal(a.Claims)
	bb, _ := json.Marshal(b.Claims)
	return bytes.Equal(ab, bb)
}
