// Package memstore keeps the current session in process memory.
package memstore

import (
	"context"
	"sync"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
)

// Persistence is an in-memory ports.SessionPersistence. Sessions do not
// survive a restart.
type Persistence struct {
	mu   sync.Mutex
	sess *domainauth.Session
}

var _ ports.SessionPersistence = (*Persistence)(nil)

// New returns an empty Persistence.
func New() *Persistence { return &Persistence{} }

func (p *Persistence) Save(_ context.Context, sess domainauth.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := sess
	p.sess = &cp
	return nil
}

func (p *Persistence) Load(_ context.Context) (*domainauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil, nil
	}
	cp := *p.sess
	return &cp, nil
}

func (p *Persistence) Delete(_ context.Context) error {
	p.mu.Lock()
	p.sess = nil
	p.mu.Unlock()
	return nil
}
