package oidc

// Package oidc provides an OIDC-backed session store using the
// resource-owner password grant.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/civicpulse/sessionkit/internal/adapters/sessionhub"
	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/ports"
	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Provider implements ports.SessionStore using OIDC/OAuth2.
type Provider struct {
	config     *oauth2.Config
	logoutURL  string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	// go-oidc provider and verifier
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier

	current *sessionhub.Current
}

var _ ports.SessionStore = (*Provider)(nil)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	DiscoveryURL string
	LogoutURL    string
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
	Persistence  ports.SessionPersistence
	Logger       *slog.Logger
	Now          func() time.Time
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewProvider creates a new OIDC provider. Discovery runs once, here.
func NewProvider(config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	p := &Provider{
		logoutURL:  config.LogoutURL,
		httpClient: httpClient,
		logger:     logger.With("component", "oidc_store"),
		now:        now,
		current: sessionhub.NewCurrent(sessionhub.CurrentOptions{
			Persistence: config.Persistence,
			Logger:      logger,
			Now:         now,
		}),
	}

	ctx := p.clientContext(context.Background())
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	issuer = strings.TrimSuffix(issuer, ".well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

	p.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Scopes:       strings.Fields(config.Scope),
		Endpoint:     op.Endpoint(),
	}

	return p, nil
}

// Restore loads a persisted session, if any.
func (p *Provider) Restore(ctx context.Context) error {
	_, err := p.current.Restore(ctx)
	return err
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}

	token, err := p.config.PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	user, err := p.userFromToken(ctx, token)
	if err != nil {
		return nil, err
	}
	sess := p.sessionFromToken(token, user)
	p.current.Set(ctx, domainauth.EventSignedIn, sess)
	return &sess, nil
}

// SignUp is not offered by OIDC providers; accounts are provisioned upstream.
func (p *Provider) SignUp(context.Context, string, string, map[string]any) (*domainauth.Session, error) {
	return nil, apperrors.Validation("sign-up is not supported by the OIDC provider")
}

// SignOut drops the local session, then posts the refresh token to the
// logout endpoint when one is configured.
func (p *Provider) SignOut(ctx context.Context) error {
	sess := p.current.Session()
	p.current.Clear(ctx)
	if sess == nil || p.logoutURL == "" {
		return nil
	}

	form := url.Values{"client_id": {p.config.ClientID}, "client_secret": {p.config.ClientSecret}}
	if sess.RefreshToken != "" {
		form.Set("refresh_token", sess.RefreshToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := apperrors.FromContext(err, "oidc logout"); apperrors.GetCode(ctxErr) != "" {
			return ctxErr
		}
		return fmt.Errorf("oidc logout: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("close logout response", "error", cerr)
		}
	}()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("oidc logout: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) GetCurrentUser(ctx context.Context) (*domainauth.User, error) {
	sess, err := p.GetSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	ui, err := p.getUserInfo(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}
	f := fieldsFromClaims(ui)
	user := f.toUser(sess.User.EmailConfirmedAt, p.now())
	return &user, nil
}

// GetSession returns the held session, refreshing it through the token
// endpoint once it has expired.
func (p *Provider) GetSession(ctx context.Context) (*domainauth.Session, error) {
	sess := p.current.Session()
	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(p.now()) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		p.current.Clear(ctx)
		return nil, nil
	}

	src := p.config.TokenSource(p.clientContext(ctx), &oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Expiry:       sess.ExpiresAt,
	})
	token, err := src.Token()
	if err != nil {
		cerr := classifyTokenError(err)
		if apperrors.IsInvalidCredentials(cerr) {
			p.current.ClearIf(ctx, *sess)
			return nil, nil
		}
		return nil, cerr
	}
	refreshed := p.sessionFromToken(token, sess.User)
	if !p.current.Replace(ctx, domainauth.EventTokenRefreshed, *sess, refreshed) {
		// Signed out or replaced while the refresh was in flight.
		return p.current.Valid(), nil
	}
	return &refreshed, nil
}

func (p *Provider) OnAuthStateChange(fn func(domainauth.Event)) ports.Unsubscribe {
	return p.current.Subscribe(fn)
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Provider) sessionFromToken(token *oauth2.Token, user domainauth.User) domainauth.Session {
	expiresAt := p.now().Add(time.Hour)
	if !token.Expiry.IsZero() {
		expiresAt = token.Expiry
	}
	return domainauth.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         user,
	}
}

// userFromToken prefers the verified ID token and fills gaps from UserInfo.
func (p *Provider) userFromToken(ctx context.Context, token *oauth2.Token) (domainauth.User, error) {
	claims, err := p.extractFromIDToken(ctx, token)
	if err != nil {
		return domainauth.User{}, fmt.Errorf("extract id_token: %w", err)
	}
	f := fieldsFromClaims(claims)
	if f.email == "" || f.userID == "" {
		ui, uiErr := p.getUserInfo(ctx, token.AccessToken)
		if uiErr != nil {
			return domainauth.User{}, fmt.Errorf("get user info: %w", uiErr)
		}
		f.fill(fieldsFromClaims(ui))
	}
	if f.userID == "" {
		return domainauth.User{}, errors.New("oidc: no subject in token or user info")
	}
	return f.toUser(nil, p.now()), nil
}

func (p *Provider) getUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	ui, err := p.oidcProvider.UserInfo(
		p.clientContext(ctx),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	)
	if err != nil {
		if ctxErr := apperrors.FromContext(err, "oidc userinfo"); apperrors.GetCode(ctxErr) != "" {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	var claims map[string]any
	if claimsErr := ui.Claims(&claims); claimsErr != nil {
		return nil, fmt.Errorf("decode user info: %w", claimsErr)
	}
	return claims, nil
}

func (p *Provider) extractFromIDToken(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	if !p.hasOpenIDScope() {
		return nil, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return nil, err
	}
	idTok, err := p.verifier.Verify(p.clientContext(ctx), rawID)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var claims map[string]any
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return nil, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	return claims, nil
}

// hasOpenIDScope reports whether the configured scopes include "openid".
func (p *Provider) hasOpenIDScope() bool {
	for _, sc := range p.config.Scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}

// classifyTokenError maps token endpoint rejections to credential errors.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := firstNonEmpty(re.ErrorDescription, re.ErrorCode, "token request rejected")
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_request" ||
			(re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest ||
				re.Response.StatusCode == http.StatusUnauthorized)) {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidCredentials, msg)
		}
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, msg)
	}
	if ctxErr := apperrors.FromContext(err, "oidc token"); apperrors.GetCode(ctxErr) != "" {
		return ctxErr
	}
	return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "oidc token endpoint unreachable")
}
