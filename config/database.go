package config

import (
	"fmt"
	"strings"
)

// PersistenceBackend selects where the current session is kept between restarts.
type PersistenceBackend string

const (
	// PersistenceMemory keeps the session in process memory only.
	PersistenceMemory PersistenceBackend = "memory"
	// PersistenceRedis stores the session in Redis with a TTL matching its expiry.
	PersistenceRedis PersistenceBackend = "redis"
)

// UnmarshalText implements encoding.TextUnmarshaler for PersistenceBackend.
func (p *PersistenceBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "memory", "redis":
		*p = PersistenceBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid PersistenceBackend: %q (valid options: memory, redis)", v)
	}
}

// PersistenceConfig controls session persistence.
type PersistenceConfig struct {
	Backend PersistenceBackend `env:"SESSION_PERSIST" envDefault:"memory"`

	// DeviceKey identifies this client's session slot in the shared store.
	DeviceKey string `env:"SESSION_DEVICE_KEY" envDefault:"default"`

	// KeyPrefix namespaces persisted sessions.
	KeyPrefix string `env:"SESSION_KEY_PREFIX" envDefault:"sessionkit:session:"`
}

// Sanitize applies defaults to blank values.
func (c *PersistenceConfig) Sanitize() {
	if c.Backend == "" {
		c.Backend = PersistenceMemory
	}
	if c.DeviceKey = strings.TrimSpace(c.DeviceKey); c.DeviceKey == "" {
		c.DeviceKey = "default"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "sessionkit:session:"
	}
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
}
