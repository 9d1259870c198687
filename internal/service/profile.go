package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/civicpulse/sessionkit/internal/util"
	jmespath "github.com/jmespath-community/go-jmespath"
)

// DefaultDisplayName is shown when the claims carry neither a full name nor a username.
const DefaultDisplayName = "Usuário"

const defaultEnrichTimeout = 2 * time.Second

// AdminMatcher recognises the configured administrator address.
type AdminMatcher interface {
	Matches(email string) bool
}

// ProfileClaims lists the JMESPath expressions tried, in order, for each
// profile field. The first expression yielding a non-empty string wins.
type ProfileClaims struct {
	Name     []string
	Username []string
	Avatar   []string
}

// DefaultProfileClaims covers flat claims and the nested user_metadata shape.
func DefaultProfileClaims() ProfileClaims {
	return ProfileClaims{
		Name:     []string{"full_name", "user_metadata.full_name"},
		Username: []string{"username", "user_metadata.username"},
		Avatar:   []string{"avatar_url", "user_metadata.avatar_url"},
	}
}

// ProfileResolverConfig tunes the resolver.
type ProfileResolverConfig struct {
	Claims        ProfileClaims
	Admin         AdminMatcher     // Optional: nil disables the admin shortcut
	EnrichTimeout time.Duration    // default 2s
	Now           func() time.Time // Optional: clock for the forced admin confirmation
}

// ProfileResolverOptions groups dependencies for ProfileResolver.
type ProfileResolverOptions struct {
	API    ports.ProfileAPI // Required
	Config ProfileResolverConfig
	Obs    Observability
}

// ProfileResolver builds the local profile from session claims and enriches
// it from the backend profile record.
type ProfileResolver struct {
	api      ports.ProfileAPI
	admin    AdminMatcher
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
	name     []string
	username []string
	avatar   []string
}

// EnrichOutcome describes how an enrichment attempt ended.
type EnrichOutcome struct {
	Status   util.Status
	Err      error
	Duration time.Duration
}

// OK reports whether the remote record was merged.
func (o EnrichOutcome) OK() bool { return o.Status == util.StatusOK }

// NewProfileResolver validates the claim expressions and returns a resolver.
func NewProfileResolver(opts ProfileResolverOptions) (*ProfileResolver, error) {
	if opts.API == nil {
		panic("ProfileAPI is required")
	}
	cfg := opts.Config
	if len(cfg.Claims.Name)+len(cfg.Claims.Username)+len(cfg.Claims.Avatar) == 0 {
		cfg.Claims = DefaultProfileClaims()
	}
	for _, exprs := range [][]string{cfg.Claims.Name, cfg.Claims.Username, cfg.Claims.Avatar} {
		for _, expr := range exprs {
			if _, err := jmespath.Compile(expr); err != nil {
				return nil, fmt.Errorf("compile claim expression %q: %w", expr, err)
			}
		}
	}
	timeout := cfg.EnrichTimeout
	if timeout <= 0 {
		timeout = defaultEnrichTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ProfileResolver{
		api:      opts.API,
		admin:    cfg.Admin,
		timeout:  timeout,
		now:      now,
		logger:   opts.Obs.logger("profile_resolver"),
		name:     cfg.Claims.Name,
		username: cfg.Claims.Username,
		avatar:   cfg.Claims.Avatar,
	}, nil
}

// IsAdminEmail reports whether email is the configured administrator address.
func (r *ProfileResolver) IsAdminEmail(email string) bool {
	return r.admin != nil && r.admin.Matches(email)
}

// Resolve derives the local profile from the user's claims. It never fails
// and performs no I/O.
func (r *ProfileResolver) Resolve(user domainauth.User) domainauth.Profile {
	username := r.lookup(r.username, user.Claims)
	p := domainauth.Profile{
		ID:               user.ID,
		FullName:         firstNonEmpty(r.lookup(r.name, user.Claims), username, DefaultDisplayName),
		Username:         username,
		Email:            user.Email,
		EmailConfirmedAt: copyTime(user.EmailConfirmedAt),
	}
	if avatar := r.lookup(r.avatar, user.Claims); avatar != "" {
		p.AvatarURL = &avatar
	}
	// The administrator account skips email confirmation entirely.
	if r.IsAdminEmail(user.Email) {
		p.IsAdmin = true
		t := r.now().UTC()
		p.EmailConfirmedAt = &t
	}
	return p
}

// Enrich fetches the backend profile within the enrich timeout and merges it
// over local. On failure or timeout it logs a warning and returns local unchanged.
func (r *ProfileResolver) Enrich(ctx context.Context, local domainauth.Profile) (domainauth.Profile, EnrichOutcome) {
	start := time.Now()
	out := util.Within(ctx, r.timeout, r.api.GetProfile)
	res := EnrichOutcome{Status: out.Status, Err: out.Err, Duration: time.Since(start)}

	switch out.Status {
	case util.StatusOK:
		if out.Value == nil {
			return local, res
		}
		return MergeProfile(local, *out.Value), res
	case util.StatusTimedOut:
		r.logger.WarnContext(ctx, "profile enrichment timed out",
			"user_id", local.ID, "timeout", r.timeout.String())
	default:
		r.logger.WarnContext(ctx, "profile enrichment failed", "user_id", local.ID, "error", out.Err)
	}
	return local, res
}

// MergeProfile overlays the backend record on the local profile. Remote
// strings win only when non-empty. The avatar also accepts an explicit null
// that clears it. The remote admin flag can add admin but never revoke it,
// and a local confirmation timestamp is kept.
func MergeProfile(local domainauth.Profile, remote domainauth.RemoteProfile) domainauth.Profile {
	out := local
	out.AvatarURL = copyString(local.AvatarURL)
	out.EmailConfirmedAt = copyTime(local.EmailConfirmedAt)

	out.FullName = nonEmptyOr(remote.FullName, out.FullName)
	out.Username = nonEmptyOr(remote.Username, out.Username)
	out.Email = nonEmptyOr(remote.Email, out.Email)
	out.Bio = nonEmptyOr(remote.Bio, out.Bio)

	if remote.AvatarURL.Set {
		out.AvatarURL = copyString(remote.AvatarURL.Value)
	}
	if remote.IsAdmin != nil && *remote.IsAdmin {
		out.IsAdmin = true
	}
	if out.EmailConfirmedAt == nil {
		out.EmailConfirmedAt = copyTime(remote.EmailConfirmedAt)
	}
	if remote.Points != nil {
		out.Points = *remote.Points
	}
	if remote.Level != nil {
		out.Level = *remote.Level
	}
	return out
}

func (r *ProfileResolver) lookup(exprs []string, claims map[string]any) string {
	if len(claims) == 0 {
		return ""
	}
	for _, expr := range exprs {
		v, err := jmespath.Search(expr, claims)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func nonEmptyOr(remote *string, fallback string) string {
	if remote != nil && strings.TrimSpace(*remote) != "" {
		return *remote
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := *t
	return &v
}
