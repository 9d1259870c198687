package apiclient

import (
	"context"
	"net/http"
	"net/url"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
)

var (
	_ ports.ProfileAPI   = (*Client)(nil)
	_ ports.AdminChecker = (*Client)(nil)
)

// ProfileUpdate carries editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	Username  *string `json:"username,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// GetProfile fetches the authenticated user's profile record.
func (c *Client) GetProfile(ctx context.Context) (*domainauth.RemoteProfile, error) {
	var rp domainauth.RemoteProfile
	if err := c.Get(ctx, "/users/profile", nil, &rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

// UpdateProfile patches the authenticated user's profile and returns the stored record.
func (c *Client) UpdateProfile(ctx context.Context, in ProfileUpdate) (*domainauth.RemoteProfile, error) {
	var rp domainauth.RemoteProfile
	if err := c.Do(ctx, http.MethodPatch, "/users/profile", nil, in, &rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

type adminCheck struct {
	IsAdmin bool `json:"is_admin"`
}

// IsAdmin reports whether userID holds the administrator role.
func (c *Client) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var out adminCheck
	if err := c.Get(ctx, "/users/"+url.PathEscape(userID)+"/is-admin", nil, &out); err != nil {
		return false, err
	}
	return out.IsAdmin, nil
}
