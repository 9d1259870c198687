package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.SessionStore = (*FakeSessionStore)(nil)
	_ ports.Navigator    = (*RecordingNavigator)(nil)
)

// FakeSessionStore is an event-emitting session store. Each operation can be
// overridden with a Func field; the defaults keep one in-memory session and
// emit the same events a real store would.
type FakeSessionStore struct {
	SignInFunc         func(ctx context.Context, email, password string) (*domainauth.Session, error)
	SignUpFunc         func(ctx context.Context, email, password string, metadata map[string]any) (*domainauth.Session, error)
	SignOutFunc        func(ctx context.Context) error
	GetCurrentUserFunc func(ctx context.Context) (*domainauth.User, error)
	GetSessionFunc     func(ctx context.Context) (*domainauth.Session, error)

	// Password accepted by the default SignIn. Empty accepts anything.
	Password string

	mu        sync.Mutex
	session   *domainauth.Session
	listeners map[int]func(domainauth.Event)
	nextID    int
	calls     map[string]int
}

// NewFakeSessionStore returns a signed-out store.
func NewFakeSessionStore() *FakeSessionStore {
	return &FakeSessionStore{
		listeners: make(map[int]func(domainauth.Event)),
		calls:     make(map[string]int),
	}
}

// NewSession builds a session for a user with the given claims, expiring in an hour.
func NewSession(id, email string, claims map[string]any) *domainauth.Session {
	return &domainauth.Session{
		AccessToken: "token-" + id,
		ExpiresAt:   time.Now().Add(time.Hour),
		User:        domainauth.User{ID: id, Email: email, Claims: claims},
	}
}

// SetSession replaces the held session without notifying anyone.
func (f *FakeSessionStore) SetSession(sess *domainauth.Session) {
	f.mu.Lock()
	f.session = sess
	f.mu.Unlock()
}

// Emit updates the held session from ev and delivers it to every listener.
func (f *FakeSessionStore) Emit(ev domainauth.Event) {
	f.mu.Lock()
	f.session = ev.Session
	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(domainauth.Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Calls returns how often the named method ran.
func (f *FakeSessionStore) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Subscribers returns the number of live listeners.
func (f *FakeSessionStore) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *FakeSessionStore) record(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *FakeSessionStore) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	f.record("SignIn")
	if f.SignInFunc != nil {
		return f.SignInFunc(ctx, email, password)
	}
	if f.Password != "" && password != f.Password {
		return nil, apperrors.InvalidCredentials("invalid login credentials")
	}
	sess := NewSession("user-"+strings.ToLower(email), email, nil)
	f.Emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

func (f *FakeSessionStore) SignUp(
	ctx context.Context,
	email, password string,
	metadata map[string]any,
) (*domainauth.Session, error) {
	f.record("SignUp")
	if f.SignUpFunc != nil {
		return f.SignUpFunc(ctx, email, password, metadata)
	}
	sess := NewSession("user-"+strings.ToLower(email), email, metadata)
	f.Emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

func (f *FakeSessionStore) SignOut(ctx context.Context) error {
	f.record("SignOut")
	if f.SignOutFunc != nil {
		return f.SignOutFunc(ctx)
	}
	f.Emit(domainauth.Event{Kind: domainauth.EventSignedOut})
	return nil
}

func (f *FakeSessionStore) GetCurrentUser(ctx context.Context) (*domainauth.User, error) {
	f.record("GetCurrentUser")
	if f.GetCurrentUserFunc != nil {
		return f.GetCurrentUserFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, nil
	}
	u := f.session.User
	return &u, nil
}

func (f *FakeSessionStore) GetSession(ctx context.Context) (*domainauth.Session, error) {
	f.record("GetSession")
	if f.GetSessionFunc != nil {
		return f.GetSessionFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *FakeSessionStore) OnAuthStateChange(fn func(domainauth.Event)) ports.Unsubscribe {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Blocker models a remote call that never answers on its own: Wait ignores
// any context and returns only after Release.
type Blocker struct {
	ch   chan struct{}
	once sync.Once
}

// NewBlocker returns an unreleased Blocker.
func NewBlocker() *Blocker { return &Blocker{ch: make(chan struct{})} }

// Wait blocks until Release.
func (b *Blocker) Wait() { <-b.ch }

// Release unblocks every waiter. Safe to call more than once.
func (b *Blocker) Release() { b.once.Do(func() { close(b.ch) }) }

// RecordingNavigator records full navigations.
type RecordingNavigator struct {
	mu    sync.Mutex
	paths []string
	done  chan struct{}
	once  sync.Once
}

// NewRecordingNavigator returns an empty navigator.
func NewRecordingNavigator() *RecordingNavigator {
	return &RecordingNavigator{done: make(chan struct{})}
}

func (n *RecordingNavigator) Navigate(_ context.Context, path string) {
	n.mu.Lock()
	n.paths = append(n.paths, path)
	n.mu.Unlock()
	n.once.Do(func() { close(n.done) })
}

// Paths returns every navigation so far.
func (n *RecordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

// Navigated is closed after the first navigation.
func (n *RecordingNavigator) Navigated() <-chan struct{} { return n.done }
