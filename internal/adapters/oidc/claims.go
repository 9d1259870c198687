package oidc

import (
	"strings"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
)

// idFields is the subset of standard and AD/ADFS claims the session needs.
type idFields struct {
	userID        string
	email         string
	emailVerified bool
	fullName      string
	username      string
	picture       string
	raw           map[string]any
}

// fieldsFromClaims applies precedence rules across OIDC and AD claim shapes.
func fieldsFromClaims(c map[string]any) idFields {
	if c == nil {
		return idFields{}
	}
	given, family := str(c, "given_name"), str(c, "family_name")
	if given == "" && family == "" {
		given, family = str(c, "firstname"), str(c, "lastname")
	}
	return idFields{
		userID:        firstNonEmpty(str(c, "samaccountname"), str(c, "sub")),
		email:         firstNonEmpty(str(c, "email"), str(c, "mail")),
		emailVerified: verified(c["email_verified"]),
		fullName:      firstNonEmpty(str(c, "name"), strings.TrimSpace(given+" "+family)),
		username:      firstNonEmpty(str(c, "preferred_username"), str(c, "samaccountname")),
		picture:       str(c, "picture"),
		raw:           c,
	}
}

// fill copies into f every field it is missing from o.
func (f *idFields) fill(o idFields) {
	f.userID = firstNonEmpty(f.userID, o.userID)
	f.email = firstNonEmpty(f.email, o.email)
	f.emailVerified = f.emailVerified || o.emailVerified
	f.fullName = firstNonEmpty(f.fullName, o.fullName)
	f.username = firstNonEmpty(f.username, o.username)
	f.picture = firstNonEmpty(f.picture, o.picture)
	if f.raw == nil {
		f.raw = o.raw
		return
	}
	for k, v := range o.raw {
		if _, ok := f.raw[k]; !ok {
			f.raw[k] = v
		}
	}
}

// toUser builds the domain user. OIDC only reports email_verified, so the
// confirmation time is the first time it was observed.
func (f idFields) toUser(confirmedAt *time.Time, now time.Time) domainauth.User {
	claims := make(map[string]any, len(f.raw)+3)
	for k, v := range f.raw {
		claims[k] = v
	}
	if f.fullName != "" {
		claims["full_name"] = f.fullName
	}
	if f.username != "" {
		claims["username"] = f.username
	}
	if f.picture != "" {
		claims["avatar_url"] = f.picture
	}

	u := domainauth.User{ID: f.userID, Email: f.email, Claims: claims}
	if f.emailVerified {
		if confirmedAt == nil {
			t := now.UTC()
			confirmedAt = &t
		}
		u.EmailConfirmedAt = confirmedAt
	}
	return u
}

func str(c map[string]any, key string) string {
	s, _ := c[key].(string)
	return s
}

// verified accepts both the boolean form and the "true" string some ADFS
// deployments send.
func verified(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
