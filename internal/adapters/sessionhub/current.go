package sessionhub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
)

// clearPersistTimeout bounds the persistence delete in Clear, which runs
// detached from the caller's context.
const clearPersistTimeout = 5 * time.Second

// Current holds a store adapter's live session. Every change is written
// through to persistence (when configured) before listeners are notified.
// Changes are serialized: listeners observe them in the order they were
// applied, and must not change the holder synchronously from a callback.
type Current struct {
	hub     *Hub
	persist ports.SessionPersistence
	logger  *slog.Logger
	now     func() time.Time

	write sync.Mutex // held across change, persistence and publication

	mu   sync.RWMutex
	sess *domainauth.Session
}

// CurrentOptions configures a Current.
type CurrentOptions struct {
	Persistence ports.SessionPersistence // optional
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewCurrent returns an empty holder with its own hub.
func NewCurrent(opts CurrentOptions) *Current {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Current{
		hub:     New(),
		persist: opts.Persistence,
		logger:  logger.With("component", "session_holder"),
		now:     now,
	}
}

// Restore loads a persisted session without notifying listeners. Expired
// sessions are returned as-is so the caller can decide whether to refresh.
func (c *Current) Restore(ctx context.Context) (*domainauth.Session, error) {
	if c.persist == nil {
		return nil, nil
	}
	c.write.Lock()
	defer c.write.Unlock()

	sess, err := c.persist.Load(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	c.hold(sess)
	return cloneSession(sess), nil
}

// Session returns a copy of the held session, or nil.
func (c *Current) Session() *domainauth.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneSession(c.sess)
}

// Valid returns the held session when it is not expired.
func (c *Current) Valid() *domainauth.Session {
	sess := c.Session()
	if sess == nil || sess.Expired(c.now()) {
		return nil
	}
	return sess
}

// Set replaces the held session and publishes kind.
func (c *Current) Set(ctx context.Context, kind domainauth.EventKind, sess domainauth.Session) {
	c.write.Lock()
	defer c.write.Unlock()
	c.apply(ctx, kind, sess)
}

// Replace installs next only while the held session is still prev (same
// access and refresh token). It reports whether the swap happened. Work that
// started from prev, such as a token refresh, uses it so a sign-out or a new
// sign-in that landed meanwhile is not overwritten.
func (c *Current) Replace(ctx context.Context, kind domainauth.EventKind, prev, next domainauth.Session) bool {
	c.write.Lock()
	defer c.write.Unlock()
	if !c.holds(prev) {
		return false
	}
	c.apply(ctx, kind, next)
	return true
}

// Clear drops the held session. Listeners see signed_out only when a
// session was actually held. The persisted copy is deleted even when ctx is
// already done, so an abandoned sign-out cannot come back on Restore.
func (c *Current) Clear(ctx context.Context) {
	c.write.Lock()
	defer c.write.Unlock()
	c.drop(ctx)
}

// ClearIf drops the held session only while it is still prev.
func (c *Current) ClearIf(ctx context.Context, prev domainauth.Session) bool {
	c.write.Lock()
	defer c.write.Unlock()
	if !c.holds(prev) {
		return false
	}
	c.drop(ctx)
	return true
}

func (c *Current) apply(ctx context.Context, kind domainauth.EventKind, sess domainauth.Session) {
	c.hold(&sess)
	if c.persist != nil {
		if err := c.persist.Save(ctx, sess); err != nil {
			c.logger.WarnContext(ctx, "persist session failed", "error", err, "event", string(kind))
		}
	}
	c.hub.Publish(domainauth.Event{Kind: kind, Session: cloneSession(&sess)})
}

func (c *Current) drop(ctx context.Context) {
	c.mu.Lock()
	had := c.sess != nil
	c.sess = nil
	c.mu.Unlock()

	if c.persist != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearPersistTimeout)
		err := c.persist.Delete(dctx)
		cancel()
		if err != nil {
			c.logger.WarnContext(ctx, "delete persisted session failed", "error", err)
		}
	}
	if had {
		c.hub.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})
	}
}

func (c *Current) hold(sess *domainauth.Session) {
	c.mu.Lock()
	c.sess = cloneSession(sess)
	c.mu.Unlock()
}

func (c *Current) holds(prev domainauth.Session) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess != nil &&
		c.sess.AccessToken == prev.AccessToken &&
		c.sess.RefreshToken == prev.RefreshToken
}

// Subscribe registers fn on the holder's hub.
func (c *Current) Subscribe(fn func(domainauth.Event)) ports.Unsubscribe {
	return c.hub.Subscribe(fn)
}

func cloneSession(s *domainauth.Session) *domainauth.Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.User.Claims != nil {
		cp.User.Claims = make(map[string]any, len(s.User.Claims))
		for k, v := range s.User.Claims {
			cp.User.Claims[k] = v
		}
	}
	return &cp
}
