package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/observability/metrics"
	"github.com/civicpulse/sessionkit/internal/observability/statsd"
	"github.com/civicpulse/sessionkit/internal/ports"
	"golang.org/x/sync/singleflight"
)

const (
	defaultAdminCheckWait    = 750 * time.Millisecond
	defaultAdminCheckTimeout = 5 * time.Second
)

// AdminDecision is the outcome of an admin route check.
type AdminDecision int

const (
	// AdminPending means the role check has not answered yet.
	AdminPending AdminDecision = iota
	AdminAllowed
	AdminDenied
)

func (d AdminDecision) String() string {
	switch d {
	case AdminAllowed:
		return "allowed"
	case AdminDenied:
		return "denied"
	default:
		return "pending"
	}
}

// AdminGateConfig tunes the admin gate.
type AdminGateConfig struct {
	Admin AdminMatcher // Optional: nil disables the admin-email shortcut
	// Wait is how long Check blocks on a role lookup before answering pending.
	Wait         time.Duration // default 750ms
	CheckTimeout time.Duration // default 5s
}

// AdminGateOptions groups dependencies for AdminGate.
type AdminGateOptions struct {
	Checker ports.AdminChecker // Required
	Config  AdminGateConfig
	Obs     Observability
}

type adminEntry struct {
	gen     uint64
	allowed bool
}

// AdminGate decides whether the session may enter admin routes. Lookups are
// shared between concurrent callers and cached for the session generation
// they were made in.
type AdminGate struct {
	checker ports.AdminChecker
	admin   AdminMatcher
	wait    time.Duration
	timeout time.Duration
	logger  *slog.Logger
	metrics statsd.Sink

	group singleflight.Group

	mu      sync.Mutex
	latest  uint64
	entries map[string]adminEntry
}

// NewAdminGate constructs an AdminGate.
func NewAdminGate(opts AdminGateOptions) *AdminGate {
	if opts.Checker == nil {
		panic("AdminChecker is required")
	}
	cfg := opts.Config
	if cfg.Wait <= 0 {
		cfg.Wait = defaultAdminCheckWait
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultAdminCheckTimeout
	}
	return &AdminGate{
		checker: opts.Checker,
		admin:   cfg.Admin,
		wait:    cfg.Wait,
		timeout: cfg.CheckTimeout,
		logger:  opts.Obs.logger("admin_gate"),
		metrics: opts.Obs.Metrics,
		entries: make(map[string]adminEntry),
	}
}

// Check answers for the given session state. The configured admin address
// is allowed without a lookup. Anyone else must have a confirmed email and
// pass the role check; errors from the checker deny.
func (g *AdminGate) Check(ctx context.Context, state domainauth.State) AdminDecision {
	if state.Loading {
		return AdminPending
	}
	user := state.User
	if user == nil {
		return g.decide(AdminDenied, metrics.ResultDenied, nil)
	}
	if g.admin != nil && g.admin.Matches(user.Email) {
		return g.decide(AdminAllowed, metrics.ResultShortcut, nil)
	}
	if !user.EmailConfirmed() {
		return g.decide(AdminDenied, metrics.ResultDenied, nil)
	}

	key := strconv.FormatUint(state.Generation, 10) + ":" + user.ID
	if allowed, ok := g.cached(key, state.Generation); ok {
		return g.decideAllowed(allowed)
	}

	userID, gen := user.ID, state.Generation
	// The lookup outlives a single request so a slow answer still lands in
	// the cache for the next poll.
	lookupCtx := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		cctx, cancel := context.WithTimeout(lookupCtx, g.timeout)
		defer cancel()
		ok, err := g.checker.IsAdmin(cctx, userID)
		if err != nil {
			return false, err
		}
		g.store(key, gen, ok)
		return ok, nil
	})

	timer := time.NewTimer(g.wait)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err != nil {
			g.logger.WarnContext(ctx, "admin role check failed; denying", "user_id", userID, "error", res.Err)
			return g.decide(AdminDenied, metrics.ResultError, res.Err)
		}
		allowed, _ := res.Val.(bool)
		return g.decideAllowed(allowed)
	case <-timer.C:
		return AdminPending
	case <-ctx.Done():
		return AdminPending
	}
}

func (g *AdminGate) decideAllowed(allowed bool) AdminDecision {
	if allowed {
		return g.decide(AdminAllowed, metrics.ResultAllowed, nil)
	}
	return g.decide(AdminDenied, metrics.ResultDenied, nil)
}

func (g *AdminGate) decide(d AdminDecision, result string, err error) AdminDecision {
	metrics.EmitAdminCheck(g.metrics, result, err)
	return d
}

func (g *AdminGate) cached(key string, gen uint64) (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked(gen)
	e, ok := g.entries[key]
	if !ok || e.gen != gen {
		return false, false
	}
	return e.allowed, true
}

func (g *AdminGate) store(key string, gen uint64, allowed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked(gen)
	if gen < g.latest {
		return
	}
	g.entries[key] = adminEntry{gen: gen, allowed: allowed}
}

// advanceLocked drops entries of generations older than gen.
func (g *AdminGate) advanceLocked(gen uint64) {
	if gen <= g.latest {
		return
	}
	g.latest = gen
	for k, e := range g.entries {
		if e.gen < gen {
			delete(g.entries, k)
		}
	}
}
