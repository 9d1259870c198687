package auth

// Package auth contains domain-level types for sessions and profiles.
// It is pure and free of framework/adapter concerns.

import (
	"bytes"
	"encoding/json"
	"time"
)

// User is the authenticated principal as reported by the session store.
// Adapters map provider-specific payloads into this shape.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Claims           map[string]any `json:"claims,omitempty"`
}

// EmailConfirmed reports whether the store has a confirmation timestamp for the user.
func (u User) EmailConfirmed() bool { return u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero() }

// Session is the bearer session issued by the session store. Read-only here.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// EventKind names a session store change notification.
type EventKind string

const (
	EventInitialSession EventKind = "initial_session"
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventUserUpdated    EventKind = "user_updated"
)

// Event is delivered to subscribers of the session store. Session is nil when
// the event carries no session (sign-out, expiry).
type Event struct {
	Kind    EventKind
	Session *Session
}

// Profile is what consumers render. The local profile is derived purely from
// session claims; the enriched profile merges the backend record on top.
type Profile struct {
	ID               string     `json:"id"`
	FullName         string     `json:"full_name"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	AvatarURL        *string    `json:"avatar_url"`
	IsAdmin          bool       `json:"is_admin"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	Bio              string     `json:"bio,omitempty"`
	Points           int        `json:"points,omitempty"`
	Level            int        `json:"level,omitempty"`
}

// RemoteProfile is the backend's profile record. Absent fields are nil.
type RemoteProfile struct {
	ID               string         `json:"id"`
	FullName         *string        `json:"full_name"`
	Username         *string        `json:"username"`
	Email            *string        `json:"email"`
	AvatarURL        OptionalString `json:"avatar_url"`
	IsAdmin          *bool          `json:"is_admin"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	Bio              *string        `json:"bio"`
	Points           *int           `json:"points"`
	Level            *int           `json:"level"`
}

// OptionalString distinguishes an absent JSON field (Set=false) from an
// explicit null (Set=true, Value=nil).
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON records presence; it is only called when the key exists.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// MarshalJSON writes null for unset or null values.
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// Phase is the coarse state of the session manager.
type Phase string

const (
	PhaseBootstrapping Phase = "bootstrapping"
	PhaseAuthenticated Phase = "authenticated"
	PhaseAnonymous     Phase = "anonymous"
)

// State is the published output of the session manager.
type State struct {
	User       *User    `json:"user"`
	Profile    *Profile `json:"profile"`
	Loading    bool     `json:"loading"`
	Generation uint64   `json:"generation"`
}

// Phase derives the coarse phase from the published fields.
func (s State) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseBootstrapping
	case s.User != nil:
		return PhaseAuthenticated
	default:
		return PhaseAnonymous
	}
}

// Authenticated reports whether a user is present and loading has settled.
func (s State) Authenticated() bool { return s.Phase() == PhaseAuthenticated }
