package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"github.com/civicpulse/sessionkit/internal/observability/metrics"
	"github.com/civicpulse/sessionkit/internal/observability/statsd"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/civicpulse/sessionkit/internal/util"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSafetyTimeout  = 5 * time.Second
	defaultSignOutTimeout = 1500 * time.Millisecond
	defaultLoginPath      = "/login"

	causeStart   = "start"
	causeSafety  = "safety_timeout"
	causeRefresh = "refresh"
	causeLogout  = "logout"
	causeEnrich  = "enrich"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("session manager already started")

// SessionDeps are the collaborators driven by the session manager.
type SessionDeps struct {
	Store     ports.SessionStore // Required
	Tokens    ports.TokenSink    // Required: the manager is its only writer
	Profiles  *ProfileResolver   // Required
	Navigator ports.Navigator    // Required: full navigation after logout
}

// SessionManagerConfig bounds the manager's suspension points.
type SessionManagerConfig struct {
	SafetyTimeout  time.Duration // default 5s
	SignOutTimeout time.Duration // default 1.5s
	// RefreshTimeout bounds the user re-read in RefreshProfile. Defaults to SafetyTimeout.
	RefreshTimeout time.Duration
	LoginPath      string // default /login
}

// SessionManagerOptions groups dependencies for SessionManager.
type SessionManagerOptions struct {
	Deps   SessionDeps
	Config SessionManagerConfig
	Obs    Observability
}

// SessionManager owns the client session state (user, profile, loading) and
// keeps it in step with the session store. State is published to
// subscribers; each store event bumps a generation so that late results of
// an older generation are discarded instead of applied.
type SessionManager struct {
	store    ports.SessionStore
	tokens   ports.TokenSink
	profiles *ProfileResolver
	nav      ports.Navigator
	cfg      SessionManagerConfig
	logger   *slog.Logger
	metrics  statsd.Sink

	mu           sync.Mutex
	state        domainauth.State
	gen          uint64
	version      uint64
	started      bool
	closed       bool
	unsub        ports.Unsubscribe
	safety       *time.Timer
	enrichCancel context.CancelFunc
	lifetime     context.Context
	stop         context.CancelFunc
	ready        chan struct{}
	enrichWG     sync.WaitGroup

	notifyMu  sync.Mutex
	delivered uint64

	listenersMu sync.Mutex
	listeners   map[uint64]func(domainauth.State)
	nextID      uint64
}

// NewSessionManager constructs a SessionManager in the bootstrapping phase.
func NewSessionManager(opts SessionManagerOptions) *SessionManager {
	d := opts.Deps
	if d.Store == nil {
		panic("SessionStore is required")
	}
	if d.Tokens == nil {
		panic("TokenSink is required")
	}
	if d.Profiles == nil {
		panic("ProfileResolver is required")
	}
	if d.Navigator == nil {
		panic("Navigator is required")
	}

	cfg := opts.Config
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = defaultSafetyTimeout
	}
	if cfg.SignOutTimeout <= 0 {
		cfg.SignOutTimeout = defaultSignOutTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = cfg.SafetyTimeout
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultLoginPath
	}

	lifetime, stop := context.WithCancel(context.Background())
	return &SessionManager{
		store:     d.Store,
		tokens:    d.Tokens,
		profiles:  d.Profiles,
		nav:       d.Navigator,
		cfg:       cfg,
		logger:    opts.Obs.logger("session_manager"),
		metrics:   opts.Obs.Metrics,
		state:     domainauth.State{Loading: true},
		lifetime:  lifetime,
		stop:      stop,
		ready:     make(chan struct{}),
		listeners: make(map[uint64]func(domainauth.State)),
	}
}

// Start arms the safety timer, subscribes to store events and queries the
// current user and session concurrently. It returns without waiting for the
// query; use WaitReady to block until loading ends.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("session manager is closed")
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.safety = time.AfterFunc(m.cfg.SafetyTimeout, m.onSafetyTimeout)
	gen := m.gen
	m.mu.Unlock()

	// Subscribe before querying so an event racing the query is never missed;
	// the generation check decides which result stands.
	unsub := m.store.OnAuthStateChange(m.handleEvent)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsub()
		return nil
	}
	m.unsub = unsub
	m.mu.Unlock()

	// The query outlives the caller's ctx; Close cancels it.
	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(m.lifetime, cancel)
	go func() {
		defer stopAfter()
		defer cancel()
		m.initialQuery(qctx, gen)
	}()
	return nil
}

func (m *SessionManager) initialQuery(qctx context.Context, gen uint64) {
	var (
		user *domainauth.User
		sess *domainauth.Session
	)
	g, gctx := errgroup.WithContext(qctx)
	g.Go(func() error {
		u, err := m.store.GetCurrentUser(gctx)
		user = u
		return err
	})
	g.Go(func() error {
		s, err := m.store.GetSession(gctx)
		sess = s
		return err
	})
	err := g.Wait()

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug("discarding stale initial session query", "generation", gen)
		return
	}
	if err != nil {
		m.logger.Warn("initial session query failed; continuing signed out", "error", err)
		user, sess = nil, nil
	}
	var snap domainauth.State
	var version uint64
	if user != nil {
		m.propagateTokenLocked(sess)
		snap, version = m.applyUserLocked(*user, causeStart)
	} else {
		m.tokens.ClearToken()
		snap, version = m.applyAnonymousLocked(causeStart)
	}
	m.mu.Unlock()
	m.notify(snap, version)
}

// handleEvent runs synchronously on the store's notifying goroutine.
func (m *SessionManager) handleEvent(ev domainauth.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.cancelEnrichLocked()

	// The token is in place before any call made on behalf of this event.
	m.propagateTokenLocked(ev.Session)

	var snap domainauth.State
	var version uint64
	if ev.Session != nil {
		snap, version = m.applyUserLocked(ev.Session.User, string(ev.Kind))
	} else {
		snap, version = m.applyAnonymousLocked(string(ev.Kind))
	}
	m.mu.Unlock()
	m.notify(snap, version)
}

func (m *SessionManager) onSafetyTimeout() {
	m.mu.Lock()
	if m.closed || !m.state.Loading {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("session bootstrap exceeded safety timeout; ending loading phase",
		"timeout", m.cfg.SafetyTimeout.String())
	m.state.Loading = false
	snap, version := m.commitLocked(causeSafety)
	m.mu.Unlock()
	metrics.EmitSafetyTimeout(m.metrics)
	m.notify(snap, version)
}

func (m *SessionManager) propagateTokenLocked(sess *domainauth.Session) {
	if sess != nil && sess.AccessToken != "" {
		m.tokens.SetToken(sess.AccessToken)
		return
	}
	m.tokens.ClearToken()
}

// applyUserLocked publishes the user with its local profile, ends loading and
// starts a background enrichment tied to the current generation.
func (m *SessionManager) applyUserLocked(user domainauth.User, cause string) (domainauth.State, uint64) {
	local := m.profiles.Resolve(user)
	m.state.User = &user
	m.state.Profile = &local
	m.state.Loading = false
	snap, version := m.commitLocked(cause)
	m.startEnrichLocked(local, cause)
	return snap, version
}

func (m *SessionManager) applyAnonymousLocked(cause string) (domainauth.State, uint64) {
	m.state.User = nil
	m.state.Profile = nil
	m.state.Loading = false
	return m.commitLocked(cause)
}

// commitLocked stamps the state and returns the snapshot to publish.
func (m *SessionManager) commitLocked(cause string) (domainauth.State, uint64) {
	m.state.Generation = m.gen
	m.version++
	if !m.state.Loading {
		select {
		case <-m.ready:
		default:
			close(m.ready)
		}
	}
	snap := cloneState(m.state)
	metrics.EmitTransition(m.metrics, string(snap.Phase()), cause)
	return snap, m.version
}

func (m *SessionManager) startEnrichLocked(local domainauth.Profile, trigger string) {
	ctx, cancel := context.WithCancel(m.lifetime)
	m.enrichCancel = cancel
	gen := m.gen
	m.enrichWG.Add(1)
	go func() {
		defer m.enrichWG.Done()
		defer cancel()

		enriched, out := m.profiles.Enrich(ctx, local)
		if !out.OK() {
			metrics.EmitEnrichment(m.metrics, trigger, enrichMetric(out))
			return
		}

		m.mu.Lock()
		if m.closed || m.gen != gen || m.state.User == nil || m.state.User.ID != local.ID {
			m.mu.Unlock()
			m.logger.Debug("discarding stale profile enrichment", "user_id", local.ID, "generation", gen)
			metrics.EmitEnrichment(m.metrics, trigger, metrics.Outcome{Result: metrics.ResultStale, Duration: out.Duration})
			return
		}
		m.state.Profile = &enriched
		snap, version := m.commitLocked(causeEnrich)
		m.mu.Unlock()
		metrics.EmitEnrichment(m.metrics, trigger, enrichMetric(out))
		m.notify(snap, version)
	}()
}

func (m *SessionManager) cancelEnrichLocked() {
	if m.enrichCancel != nil {
		m.enrichCancel()
		m.enrichCancel = nil
	}
}

// RefreshProfile re-reads the current user, resolves and enriches it. If
// enrichment fails the local profile replaces whatever was published, since
// the caller explicitly asked for fresh data.
func (m *SessionManager) RefreshProfile(ctx context.Context) (domainauth.Profile, error) {
	m.mu.Lock()
	if m.state.User == nil {
		m.mu.Unlock()
		return domainauth.Profile{}, apperrors.Unauthenticated("no active session")
	}
	known := *m.state.User
	gen := m.gen
	// A background enrichment still in flight is older than this refresh.
	m.cancelEnrichLocked()
	m.mu.Unlock()

	user := known
	read := util.Within(ctx, m.cfg.RefreshTimeout, m.store.GetCurrentUser)
	switch {
	case read.OK() && read.Value != nil:
		user = *read.Value
	case read.OK():
		m.logger.WarnContext(ctx, "refresh found no current user; using known user", "user_id", known.ID)
	default:
		m.logger.WarnContext(ctx, "refresh could not re-read user; using known user",
			"user_id", known.ID, "status", read.Status.String(), "error", read.Err)
	}

	local := m.profiles.Resolve(user)
	enriched, out := m.profiles.Enrich(ctx, local)
	metrics.EmitEnrichment(m.metrics, causeRefresh, enrichMetric(out))
	final := local
	if out.OK() {
		final = enriched
	}

	m.mu.Lock()
	if m.closed || m.gen != gen || m.state.User == nil || m.state.User.ID != user.ID {
		cur := m.state.Profile
		m.mu.Unlock()
		if cur == nil {
			return domainauth.Profile{}, apperrors.Unauthenticated("session ended during refresh")
		}
		return *cur, nil
	}
	m.state.User = &user
	m.state.Profile = &final
	snap, version := m.commitLocked(causeRefresh)
	m.mu.Unlock()
	m.notify(snap, version)
	return final, nil
}

// Logout signs out remotely within the sign-out timeout, then clears the
// token and local state and navigates to the login page whatever the remote
// outcome was.
func (m *SessionManager) Logout(ctx context.Context) {
	start := time.Now()
	out := util.WithinErr(ctx, m.cfg.SignOutTimeout, m.store.SignOut)
	result := metrics.Outcome{Duration: time.Since(start), Err: out.Err}
	switch out.Status {
	case util.StatusOK:
		result.Result = metrics.ResultSuccess
	case util.StatusTimedOut:
		result.Result = metrics.ResultTimeout
		m.logger.WarnContext(ctx, "remote sign-out timed out; clearing local session anyway",
			"timeout", m.cfg.SignOutTimeout.String())
	default:
		result.Result = metrics.ResultError
		m.logger.WarnContext(ctx, "remote sign-out failed; clearing local session anyway", "error", out.Err)
	}
	metrics.EmitLogout(m.metrics, result)

	m.mu.Lock()
	m.gen++
	m.cancelEnrichLocked()
	m.tokens.ClearToken()
	snap, version := m.applyAnonymousLocked(causeLogout)
	m.mu.Unlock()
	m.notify(snap, version)

	m.nav.Navigate(ctx, m.cfg.LoginPath)
}

// Close unsubscribes from the store, stops the safety timer and cancels any
// enrichment in flight. It is safe to call more than once.
func (m *SessionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsub := m.unsub
	m.unsub = nil
	if m.safety != nil {
		m.safety.Stop()
	}
	m.cancelEnrichLocked()
	m.stop()
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.enrichWG.Wait()
}

// Snapshot returns a copy of the current state.
func (m *SessionManager) Snapshot() domainauth.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

// Subscribe registers fn for every published state, in publication order.
// Older snapshots that lose a race with newer ones are skipped.
func (m *SessionManager) Subscribe(fn func(domainauth.State)) ports.Unsubscribe {
	if fn == nil {
		return func() {}
	}
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}
}

// WaitReady blocks until the loading phase has ended or ctx is done.
func (m *SessionManager) WaitReady(ctx context.Context) (domainauth.State, error) {
	select {
	case <-m.ready:
		return m.Snapshot(), nil
	case <-ctx.Done():
		return m.Snapshot(), apperrors.FromContext(ctx.Err(), "wait for session")
	}
}

func (m *SessionManager) notify(snap domainauth.State, version uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if version <= m.delivered {
		return
	}
	m.delivered = version

	m.listenersMu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	fns := make([]func(domainauth.State), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(cloneState(snap))
	}
}

func enrichMetric(out EnrichOutcome) metrics.Outcome {
	res := metrics.Outcome{Duration: out.Duration, Err: out.Err}
	switch out.Status {
	case util.StatusOK:
		res.Result = metrics.ResultSuccess
	case util.StatusTimedOut:
		res.Result = metrics.ResultTimeout
	default:
		res.Result = metrics.ResultError
	}
	return res
}

func cloneState(s domainauth.State) domainauth.State {
	out := s
	if s.User != nil {
		u := *s.User
		u.EmailConfirmedAt = copyTime(s.User.EmailConfirmedAt)
		if s.User.Claims != nil {
			u.Claims = make(map[string]any, len(s.User.Claims))
			for k, v := range s.User.Claims {
				u.Claims[k] = v
			}
		}
		out.User = &u
	}
	if s.Profile != nil {
		p := *s.Profile
		p.AvatarURL = copyString(s.Profile.AvatarURL)
		p.EmailConfirmedAt = copyTime(s.Profile.EmailConfirmedAt)
		out.Profile = &p
	}
	return out
}
