// Package mutation executes writes against the authority and keeps the
// client cache consistent with their outcome.
//
// Writes are never applied optimistically. A successful write upserts the
// record the authority returned and invalidates every result set whose
// membership or ordering may have changed; a failed write touches nothing.
// At most one write per target record is in flight: a second request for the
// same target is rejected, not queued.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/goliatone/go-catalogue-cache/cache"
	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/store"
	"github.com/goliatone/go-catalogue-cache/transport"
)

// ErrInProgress is returned when a write for the same target is in flight.
var ErrInProgress = errors.New("mutation: a write for this record is already in progress")

// ValidationError reports input rejected before anything was sent.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mutation: invalid %s input: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Operation names used in logs and metrics.
const (
	OpCreate   = "create"
	OpDelete   = "delete"
	OpCheckout = "checkout"
	OpReturn   = "return"
)

// API is the subset of the authority the coordinator writes to.
// *catalogue.Client implements it.
type API interface {
	CreateItem(ctx context.Context, in catalogue.CreateItemInput) (catalogue.Item, error)
	DeleteItem(ctx context.Context, id string) error
	Checkout(ctx context.Context, in catalogue.CheckoutInput) (catalogue.LendingRecord, error)
	Return(ctx context.Context, lendingID string) (catalogue.LendingRecord, error)
}

// Coordinator serializes writes per target and applies their outcome.
type Coordinator struct {
	api      API
	store    *store.Store
	detail   cache.CacheService
	logger   *slog.Logger
	meter    metric.Meter
	counter  metric.Int64Counter
	inflight *xsync.MapOf[string, string]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMeter sets the meter that records the catalogue.mutations counter.
func WithMeter(m metric.Meter) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.meter = m
		}
	}
}

// New creates a Coordinator writing through api and maintaining st and detail.
func New(api API, st *store.Store, detail cache.CacheService, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:      api,
		store:    st,
		detail:   detail,
		logger:   slog.Default(),
		meter:    otel.Meter("github.com/goliatone/go-catalogue-cache/mutation"),
		inflight: xsync.NewMapOf[string, string](),
	}
	for _, opt := range opts {
		opt(c)
	}

	counter, err := c.meter.Int64Counter("catalogue.mutations",
		metric.WithDescription("Writes dispatched to the catalogue authority, by operation and outcome."),
	)
	if err != nil {
		c.logger.Warn("mutation counter unavailable", "error", err)
	}
	c.counter = counter
	return c
}

// ItemTarget is the in-flight key for writes on a catalogue item.
func ItemTarget(id string) string {
	return catalogue.ItemKey(id).String()
}

// LendingTarget is the in-flight key for writes on a lending record.
func LendingTarget(id string) string {
	return catalogue.LendingKey(id).String()
}

// Pending reports whether a write for target is in flight, so a front end
// can disable the matching control.
func (c *Coordinator) Pending(target string) bool {
	_, ok := c.inflight.Load(target)
	return ok
}

// CreateItem adds a catalogue item. Identical payloads submitted twice
// concurrently are dispatched once.
func (c *Coordinator) CreateItem(ctx context.Context, in catalogue.CreateItemInput) (catalogue.Item, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return catalogue.Item{}, c.invalid(ctx, OpCreate, err)
	}

	target := "create:" + cache.Digest(cache.NewSignatureSerializer().Serialize(in))
	var item catalogue.Item
	err := c.run(ctx, OpCreate, target, func(ctx context.Context) error {
		created, err := c.api.CreateItem(ctx, in)
		if err != nil {
			return err
		}
		item = created
		c.store.Upsert(created)
		c.invalidate(ctx, OpCreate, "", store.KindItem)
		return nil
	})
	return item, err
}

// DeleteItem removes a catalogue item. Only after the authority confirms is
// the record dropped from the store.
func (c *Coordinator) DeleteItem(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return c.invalid(ctx, OpDelete, errors.New("item id is required"))
	}

	return c.run(ctx, OpDelete, ItemTarget(id), func(ctx context.Context) error {
		if err := c.api.DeleteItem(ctx, id); err != nil {
			return err
		}
		c.store.Remove(catalogue.ItemKey(id))
		c.invalidate(ctx, OpDelete, id, store.KindItem)
		return nil
	})
}

// Checkout lends an item. The item's copy count is not touched locally; the
// affected listings and the item detail are refetched instead.
func (c *Coordinator) Checkout(ctx context.Context, in catalogue.CheckoutInput) (catalogue.LendingRecord, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return catalogue.LendingRecord{}, c.invalid(ctx, OpCheckout, err)
	}

	var rec catalogue.LendingRecord
	err := c.run(ctx, OpCheckout, ItemTarget(in.ItemID), func(ctx context.Context) error {
		created, err := c.api.Checkout(ctx, in)
		if err != nil {
			return err
		}
		rec = created
		c.store.Upsert(created)
		c.invalidate(ctx, OpCheckout, in.ItemID, store.KindItem, store.KindLending)
		return nil
	})
	return rec, err
}

// Return closes a lending record.
func (c *Coordinator) Return(ctx context.Context, lendingID string) (catalogue.LendingRecord, error) {
	lendingID = strings.TrimSpace(lendingID)
	if lendingID == "" {
		return catalogue.LendingRecord{}, c.invalid(ctx, OpReturn, errors.New("lending id is required"))
	}

	var rec catalogue.LendingRecord
	err := c.run(ctx, OpReturn, LendingTarget(lendingID), func(ctx context.Context) error {
		returned, err := c.api.Return(ctx, lendingID)
		if err != nil {
			return err
		}
		rec = returned
		c.store.Upsert(returned)
		c.invalidate(ctx, OpReturn, returned.ItemID, store.KindItem, store.KindLending)
		return nil
	})
	return rec, err
}

// run claims target for the duration of fn. Errors from fn are returned as
// is; the caller decides how to present them.
func (c *Coordinator) run(ctx context.Context, op, target string, fn func(context.Context) error) error {
	if holder, loaded := c.inflight.LoadOrStore(target, op); loaded {
		c.logger.DebugContext(ctx, "write rejected, target busy", "op", op, "target", target, "held_by", holder)
		c.record(ctx, op, "rejected")
		return ErrInProgress
	}
	defer c.inflight.Delete(target)

	if err := fn(ctx); err != nil {
		attrs := []any{"op", op, "target", target, "error", err}
		if code := transport.DomainCode(err); code != "" {
			attrs = append(attrs, "code", code)
		}
		c.logger.WarnContext(ctx, "write failed", attrs...)
		c.record(ctx, op, outcome(err))
		return err
	}
	c.logger.InfoContext(ctx, "write applied", "op", op, "target", target)
	c.record(ctx, op, "ok")
	return nil
}

func (c *Coordinator) invalid(ctx context.Context, op string, err error) error {
	c.record(ctx, op, "invalid")
	return &ValidationError{Op: op, Err: err}
}

// invalidate marks every result set of kinds stale and drops the read-through
// entries the write may have changed.
func (c *Coordinator) invalidate(ctx context.Context, op, itemID string, kinds ...store.Kind) {
	n := c.store.Invalidate(store.ForKind(kinds...))

	if itemID != "" {
		if err := c.detail.Delete(ctx, cache.Key(cache.NamespaceItemDetail, itemID)); err != nil {
			c.logger.WarnContext(ctx, "drop item detail failed", "item_id", itemID, "error", err)
		}
	}
	if err := c.detail.DeleteByPrefix(ctx, cache.NamespaceAnalytics); err != nil {
		c.logger.WarnContext(ctx, "drop analytics summaries failed", "error", err)
	}
	c.logger.DebugContext(ctx, "invalidated after write", "op", op, "result_sets", n)
}

func (c *Coordinator) record(ctx context.Context, op, result string) {
	if c.counter == nil {
		return
	}
	c.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", result),
	))
}

func outcome(err error) string {
	e, ok := transport.AsError(err)
	if !ok {
		return "error"
	}
	return e.Kind.String()
}
