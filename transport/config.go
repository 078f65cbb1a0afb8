package transport

import (
	"net/url"
	"time"
)

// Config holds the settings for a Client.
type Config struct {
	// BaseURL is the absolute root of the authority, e.g. http://localhost:8000.
	BaseURL string

	// Timeout bounds a single round trip. Zero uses DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultTimeout is applied when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// DefaultConfig returns a Config pointing at a local authority.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:8000",
		Timeout:   DefaultTimeout,
		UserAgent: "go-catalogue-cache",
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigError{Field: "BaseURL", Message: "is required"}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "BaseURL", Message: "must be an absolute URL"}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "Timeout", Message: "must be non-negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "transport config error in field " + e.Field + ": " + e.Message
}
