package identity

import (
	"encoding/json"
	"errors"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
)

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         wireUser `json:"user"`
}

func (t tokenResponse) session(now time.Time) (domainauth.Session, error) {
	if t.AccessToken == "" {
		return domainauth.Session{}, errors.New("identity token response carries no access token")
	}
	var exp time.Time
	switch {
	case t.ExpiresAt > 0:
		exp = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		exp = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return domainauth.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    exp,
		User:         t.User.toDomain(),
	}, nil
}

// wireUser keeps the raw payload so every field the service sends is
// reachable through claim expressions (e.g. user_metadata.full_name).
type wireUser struct {
	ID               string
	Email            string
	EmailConfirmedAt *time.Time
	raw              map[string]any
}

func (w *wireUser) UnmarshalJSON(data []byte) error {
	var head struct {
		ID               string     `json:"id"`
		Email            string     `json:"email"`
		EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
		ConfirmedAt      *time.Time `json:"confirmed_at"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.ID = head.ID
	w.Email = head.Email
	w.EmailConfirmedAt = head.EmailConfirmedAt
	if w.EmailConfirmedAt == nil {
		w.EmailConfirmedAt = head.ConfirmedAt
	}
	w.raw = raw
	return nil
}

func (w wireUser) toDomain() domainauth.User {
	claims := make(map[string]any, len(w.raw))
	for k, v := range w.raw {
		switch k {
		case "id", "email", "email_confirmed_at", "confirmed_at":
			continue
		}
		claims[k] = v
	}
	return domainauth.User{
		ID:               w.ID,
		Email:            w.Email,
		EmailConfirmedAt: w.EmailConfirmedAt,
		Claims:           claims,
	}
}
