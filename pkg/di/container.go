// Package di wires the catalogue client stack from a single Config: the
// transport, the authority client, the normalized store, the read-through
// detail cache, the query controller, the mutation coordinator and the
// permission gate.
package di

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-catalogue-cache/authz"
	"github.com/goliatone/go-catalogue-cache/cache"
	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/mutation"
	"github.com/goliatone/go-catalogue-cache/query"
	"github.com/goliatone/go-catalogue-cache/store"
	"github.com/goliatone/go-catalogue-cache/transport"
)

// Config groups the settings of every component.
type Config struct {
	Transport transport.Config
	Cache     cache.Config

	// PageSize is the list page size requested from the authority.
	PageSize int

	// RoleClaim names the token claim that carries the role.
	RoleClaim string

	// Token is the bearer token of the session. Empty means anonymous.
	Token string
}

// DefaultConfig returns a Config for a local authority and an anonymous session.
func DefaultConfig() Config {
	return Config{
		Transport: transport.DefaultConfig(),
		Cache:     cache.DefaultConfig(),
		PageSize:  query.DefaultPageSize,
		RoleClaim: authz.DefaultRoleClaim,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.PageSize < 1 || c.PageSize > query.MaxPageSize {
		return &ConfigError{Field: "PageSize", Message: fmt.Sprintf("must be between 1 and %d", query.MaxPageSize)}
	}
	if c.RoleClaim == "" {
		return &ConfigError{Field: "RoleClaim", Message: "is required"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "di config error in field " + e.Field + ": " + e.Message
}

// Option customizes the components built by NewContainer.
type Option func(*options)

type options struct {
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer used by the transport.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithMeter sets the meter used by the mutation coordinator.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// Container owns one instance of each component for a session.
type Container struct {
	config    Config
	logger    *slog.Logger
	transport *transport.Client
	client    *catalogue.Client
	store     *store.Store
	detail    cache.CacheService
	queries   *query.Controller
	mutations *mutation.Coordinator
	gate      *authz.Gate
}

// NewContainer validates cfg and builds every component. The gate is primed
// from cfg.Token; a token that cannot be decoded leaves it empty and is
// logged, since the authority is the one that rejects it.
func NewContainer(cfg Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	transportOpts := []transport.Option{
		transport.WithLogger(o.logger),
		transport.WithTokenSource(transport.StaticToken(cfg.Token)),
	}
	if o.tracer != nil {
		transportOpts = append(transportOpts, transport.WithTracer(o.tracer))
	}
	tc, err := transport.New(cfg.Transport, transportOpts...)
	if err != nil {
		return nil, err
	}

	detail, err := cache.NewCacheService(cfg.Cache)
	if err != nil {
		return nil, err
	}

	client := catalogue.NewClient(tc)
	st := store.New(store.WithLogger(o.logger))

	mutationOpts := []mutation.Option{mutation.WithLogger(o.logger)}
	if o.meter != nil {
		mutationOpts = append(mutationOpts, mutation.WithMeter(o.meter))
	}

	c := &Container{
		config:    cfg,
		logger:    o.logger,
		transport: tc,
		client:    client,
		store:     st,
		detail:    detail,
		queries:   query.New(client, st, detail, query.WithPageSize(cfg.PageSize), query.WithLogger(o.logger)),
		mutations: mutation.New(client, st, detail, mutationOpts...),
		gate:      authz.NewGate(o.logger, authz.WithRoleClaim(cfg.RoleClaim)),
	}

	if _, err := c.gate.RefreshFromToken(cfg.Token); err != nil {
		o.logger.Warn("session token could not be decoded", "error", err)
	}
	return c, nil
}

// NewContainerWithDefaults builds a Container from DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(DefaultConfig(), opts...)
}

// Config returns the configuration the container was built with.
func (c *Container) Config() Config {
	return c.config
}

func (c *Container) Transport() *transport.Client     { return c.transport }
func (c *Container) Client() *catalogue.Client        { return c.client }
func (c *Container) Store() *store.Store              { return c.store }
func (c *Container) CacheService() cache.CacheService { return c.detail }
func (c *Container) Queries() *query.Controller       { return c.queries }
func (c *Container) Mutations() *mutation.Coordinator { return c.mutations }
func (c *Container) Gate() *authz.Gate                { return c.gate }

// SyncPermissions asks the authority who the session belongs to and grants
// the permissions it reports on top of those derived from the token.
func (c *Container) SyncPermissions(ctx context.Context) (authz.PermissionSet, error) {
	who, err := c.client.Whoami(ctx)
	if err != nil {
		return c.gate.Permissions(), err
	}
	return c.gate.Grant(who.UserID, who.Permissions), nil
}
