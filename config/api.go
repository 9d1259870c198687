package config

import (
	"strings"
	"time"
)

// APIConfig configures the backend REST API client.
type APIConfig struct {
	// BaseURL is the backend root, e.g. "https://api.example.com/v1".
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:3001/api"`

	// Timeout bounds each request made by the shared HTTP client.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

// Sanitize applies guardrails to API configuration values.
func (c *APIConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}
