package cacheinfra

import (
	"context"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// Config sizes the in-memory response cache.
type Config struct {
	Capacity  int
	NumShards int

	// TTL is how long a detail or summary response is served without a
	// round trip. Mutations drop affected keys before it elapses.
	TTL time.Duration

	// EvictionPercentage of entries dropped once Capacity is reached, 1..100.
	EvictionPercentage int

	// EarlyRefresh enables background refreshes of hot keys; nil disables them.
	EarlyRefresh *EarlyRefreshConfig

	// EvictionInterval of zero keeps the sturdyc default.
	EvictionInterval time.Duration
}

type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns a Config sized for one client process. Early refresh
// is off: a client has no reason to poll the authority in the background.
func DefaultConfig() Config {
	return Config{
		Capacity:           2048,
		NumShards:          16,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions returns the options for the optional settings only;
// the sizing fields are positional arguments of sturdyc.New.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var opts []sturdyc.Option
	if r := c.EarlyRefresh; r != nil {
		opts = append(opts, sturdyc.WithEarlyRefreshes(
			r.MinAsyncRefreshTime, r.MaxAsyncRefreshTime, r.SyncRefreshTime, r.RetryBaseDelay,
		))
	}
	if c.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return opts
}

type configCheck struct {
	field   string
	invalid bool
	message string
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	const positive, nonNegative = "must be greater than 0", "must be non-negative"

	checks := []configCheck{
		{"Capacity", c.Capacity <= 0, positive},
		{"NumShards", c.NumShards <= 0, positive},
		{"NumShards", c.NumShards > c.Capacity, "must not exceed Capacity"},
		{"TTL", c.TTL <= 0, positive},
		{"EvictionPercentage", c.EvictionPercentage < 1 || c.EvictionPercentage > 100, "must be between 1 and 100"},
	}
	if r := c.EarlyRefresh; r != nil {
		checks = append(checks,
			configCheck{"EarlyRefresh.MinAsyncRefreshTime", r.MinAsyncRefreshTime < 0, nonNegative},
			configCheck{"EarlyRefresh.MaxAsyncRefreshTime", r.MaxAsyncRefreshTime < r.MinAsyncRefreshTime, "must not be below MinAsyncRefreshTime"},
			configCheck{"EarlyRefresh.SyncRefreshTime", r.SyncRefreshTime < 0, nonNegative},
			configCheck{"EarlyRefresh.RetryBaseDelay", r.RetryBaseDelay < 0, nonNegative},
		)
	}
	checks = append(checks, configCheck{"EvictionInterval", c.EvictionInterval < 0, nonNegative})

	for _, chk := range checks {
		if chk.invalid {
			return &ConfigError{Field: chk.field, Message: chk.message}
		}
	}
	return nil
}

// ConfigError names the offending Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// SturdycService wraps a sturdyc client. Concurrent GetOrFetch calls for the
// same key share one fetch; failed fetches are not cached.
type SturdycService struct {
	client *sturdyc.Client[any]
}

// NewSturdycService validates cfg and builds the sturdyc client.
func NewSturdycService(cfg Config) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycService{client: client}, nil
}

// GetOrFetch returns the cached value for key, calling fetchFn on a miss.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error) {
	if fetchFn == nil {
		return nil, &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}
	return s.client.GetOrFetch(ctx, key, fetchFn)
}

// Delete removes a single entry.
func (s *SturdycService) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (s *SturdycService) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes multiple entries.
func (s *SturdycService) InvalidateKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// Size reports the number of cached entries.
func (s *SturdycService) Size() int {
	return s.client.Size()
}
