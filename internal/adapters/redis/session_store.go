package redis

// Package redis provides Redis-based adapters for session persistence.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	"github.com/civicpulse/sessionkit/internal/ports"
	"github.com/redis/go-redis/v9"
)

// SessionStore persists the client's current session in Redis under a
// per-device key. The key TTL follows the session's ExpiresAt.
type SessionStore struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

var _ ports.SessionPersistence = (*SessionStore)(nil)

// defaultTTL applies when a session carries no expiry.
const defaultTTL = 24 * time.Hour

// NewSessionStore creates a Redis session store for deviceKey using the default prefix.
func NewSessionStore(client redis.UniversalClient, deviceKey string) *SessionStore {
	return NewSessionStoreWithPrefix(client, "sessionkit:session:", deviceKey)
}

// NewSessionStoreWithPrefix creates a Redis session store with a custom key prefix.
func NewSessionStoreWithPrefix(client redis.UniversalClient, prefix, deviceKey string) *SessionStore {
	return &SessionStore{
		client: client,
		key:    prefix + deviceKey,
		now:    time.Now,
	}
}

func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.AccessToken == "" {
		return errors.New("session access token cannot be empty")
	}

	ttl := defaultTTL
	if !sess.ExpiresAt.IsZero() {
		ttl = sess.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			// Session is already expired, don't save it
			return errors.New("session is expired")
		}
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.client.Set(ctx, s.key, data, ttl).Err()
}

func (s *SessionStore) Load(ctx context.Context) (*domainauth.Session, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal([]byte(data), &sess); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	// TTL should handle this; a clock skew between hosts can still leave a stale key.
	if sess.Expired(s.now()) {
		if deleteErr := s.Delete(ctx); deleteErr != nil {
			return nil, fmt.Errorf("cleanup expired session: %w", deleteErr)
		}
		return nil, nil
	}

	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
