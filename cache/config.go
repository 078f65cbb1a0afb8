package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-catalogue-cache/internal/cacheinfra"
)

// Config exposes read-through cache options for consumers of the cache package.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EarlyRefresh       *EarlyRefreshConfig
	EvictionInterval   time.Duration
}

type EarlyRefreshConfig = cacheinfra.EarlyRefreshConfig

// DefaultConfig returns a Config sized for a single client process.
func DefaultConfig() Config {
	return Config(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService constructs the sturdyc-backed CacheService.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return adapter{svc}, nil
}

// adapter narrows the untyped infrastructure fetch signature to FetchFn[any].
type adapter struct {
	svc *cacheinfra.SturdycService
}

func (a adapter) GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error) {
	return a.svc.GetOrFetch(ctx, key, fetchFn)
}

func (a adapter) Delete(ctx context.Context, key string) error {
	return a.svc.Delete(ctx, key)
}

func (a adapter) DeleteByPrefix(ctx context.Context, prefix string) error {
	return a.svc.DeleteByPrefix(ctx, prefix)
}

func (a adapter) InvalidateKeys(ctx context.Context, keys []string) error {
	return a.svc.InvalidateKeys(ctx, keys)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config(c)
}
