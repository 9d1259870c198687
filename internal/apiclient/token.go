package apiclient

import (
	"errors"
	"net/http"
	"sync"

	"github.com/civicpulse/sessionkit/internal/ports"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned by TokenPropagator.Token when no bearer is held.
var ErrNoToken = errors.New("no bearer token set")

// TokenPropagator holds the bearer token attached to every outgoing API call.
// Only the session manager writes it; requests read it at send time.
type TokenPropagator struct {
	mu    sync.RWMutex
	token string
}

var (
	_ ports.TokenSink    = (*TokenPropagator)(nil)
	_ oauth2.TokenSource = (*TokenPropagator)(nil)
)

// NewTokenPropagator returns an empty propagator.
func NewTokenPropagator() *TokenPropagator { return &TokenPropagator{} }

// SetToken stores token; subsequent requests carry it.
func (p *TokenPropagator) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
}

// ClearToken removes the token; subsequent requests carry no credential.
func (p *TokenPropagator) ClearToken() {
	p.SetToken("")
}

// Current returns the held token, or "" when cleared.
func (p *TokenPropagator) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// Token implements oauth2.TokenSource.
func (p *TokenPropagator) Token() (*oauth2.Token, error) {
	tok := p.Current()
	if tok == "" {
		return nil, ErrNoToken
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// Transport decorates base so each request picks up the token held at send time.
// Requests made while no token is held go out without an Authorization header.
func (p *TokenPropagator) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &bearerTransport{source: p, base: base}
}

type bearerTransport struct {
	source *TokenPropagator
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return t.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	tok.SetAuthHeader(r)
	return t.base.RoundTrip(r)
}
