// Package query turns list, detail and auxiliary reads into cached state.
//
// List queries are identified by a store.Signature derived from their
// normalized filter. The Controller fetches pages from the authority, merges
// them into the store's result sets and guarantees at most one page request
// per signature at a time. Single-shot reads (item detail, user directory,
// analytics summary) go through the read-through cache.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-catalogue-cache/cache"
	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

var (
	ErrNoMorePages      = errors.New("query: result set has no more pages")
	ErrFetchInFlight    = errors.New("query: a page request for this signature is in flight")
	ErrUnknownSignature = errors.New("query: signature was not registered with this controller")
)

// API is the subset of the authority the controller reads from.
// *catalogue.Client implements it.
type API interface {
	ListItems(ctx context.Context, filter catalogue.ItemFilter, cursor string, limit int) (catalogue.Page[catalogue.Item], error)
	ListLendings(ctx context.Context, filter catalogue.LendingFilter, cursor string, limit int) (catalogue.Page[catalogue.LendingRecord], error)
	GetItem(ctx context.Context, id string) (catalogue.Item, error)
	ListUsers(ctx context.Context, limit int) ([]catalogue.User, error)
	AnalyticsSummary(ctx context.Context, days int) (catalogue.AnalyticsSummary, error)
}

// pageFunc fetches one page of a registered listing.
type pageFunc func(ctx context.Context, cursor string, limit int) ([]store.Entity, string, error)

// pageRequest records which page a failed fetch asked for.
type pageRequest struct {
	first  bool
	cursor string
}

// Controller drives list result sets and read-through lookups.
type Controller struct {
	api        API
	store      *store.Store
	detail     cache.CacheService
	serializer cache.SignatureSerializer
	pageSize   int
	logger     *slog.Logger

	listings *xsync.MapOf[store.Signature, pageFunc]
	failed   *xsync.MapOf[store.Signature, pageRequest]
}

// Option configures a Controller.
type Option func(*Controller)

// WithPageSize sets the page size requested from the authority. Values
// outside 1..MaxPageSize are clamped.
func WithPageSize(n int) Option {
	return func(c *Controller) {
		switch {
		case n <= 0:
			c.pageSize = DefaultPageSize
		case n > MaxPageSize:
			c.pageSize = MaxPageSize
		default:
			c.pageSize = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSerializer replaces the filter signature serializer.
func WithSerializer(s cache.SignatureSerializer) Option {
	return func(c *Controller) {
		if s != nil {
			c.serializer = s
		}
	}
}

// New creates a Controller reading from api into st. detail backs the
// single-shot lookups.
func New(api API, st *store.Store, detail cache.CacheService, opts ...Option) *Controller {
	c := &Controller{
		api:        api,
		store:      st,
		detail:     detail,
		serializer: cache.NewSignatureSerializer(),
		pageSize:   DefaultPageSize,
		logger:     slog.Default(),
		listings:   xsync.NewMapOf[store.Signature, pageFunc](),
		failed:     xsync.NewMapOf[store.Signature, pageRequest](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Items registers the catalogue listing for filter and returns its
// signature. Equivalent filters share one signature and one result set.
func (c *Controller) Items(filter catalogue.ItemFilter) store.Signature {
	filter = filter.Normalize()
	sig := store.Signature{Kind: store.KindItem, Key: c.serializer.Serialize(filter)}
	c.listings.LoadOrStore(sig, func(ctx context.Context, cursor string, limit int) ([]store.Entity, string, error) {
		page, err := c.api.ListItems(ctx, filter, cursor, limit)
		if err != nil {
			return nil, "", err
		}
		entities := make([]store.Entity, len(page.Items))
		for i, item := range page.Items {
			entities[i] = item
		}
		return entities, page.NextCursor, nil
	})
	return sig
}

// Lendings registers the lending listing for filter and returns its signature.
func (c *Controller) Lendings(filter catalogue.LendingFilter) store.Signature {
	filter = filter.Normalize()
	sig := store.Signature{Kind: store.KindLending, Key: c.serializer.Serialize(filter)}
	c.listings.LoadOrStore(sig, func(ctx context.Context, cursor string, limit int) ([]store.Entity, string, error) {
		page, err := c.api.ListLendings(ctx, filter, cursor, limit)
		if err != nil {
			return nil, "", err
		}
		entities := make([]store.Entity, len(page.Items))
		for i, rec := range page.Items {
			if verr := rec.Validate(); verr != nil {
				c.logger.WarnContext(ctx, "authority returned malformed lending record", "lending_id", rec.ID, "error", verr)
			}
			entities[i] = rec
		}
		return entities, page.NextCursor, nil
	})
	return sig
}

// State returns the current result set for sig without fetching.
func (c *Controller) State(sig store.Signature) store.ResultSet {
	return c.store.ResultSet(sig)
}

// Lists reports whether sig's result set currently references id.
func (c *Controller) Lists(sig store.Signature, id string) bool {
	return c.store.Lists(sig, id)
}

// Observe returns the result set for sig, first fetching page 1 when the set
// has never been loaded or was invalidated and nothing is already in flight.
// A failed set is left alone; use Retry.
func (c *Controller) Observe(ctx context.Context, sig store.Signature) (store.ResultSet, error) {
	fetch, ok := c.listings.Load(sig)
	if !ok {
		return store.ResultSet{}, fmt.Errorf("%w: %s", ErrUnknownSignature, sig)
	}

	var prev store.Status
	claimed, ok := c.store.UpdateIf(sig, func(rs *store.ResultSet) bool {
		if rs.InFlight || !(rs.Status == store.StatusIdle || rs.Stale) {
			return false
		}
		prev = rs.Status
		rs.InFlight = true
		rs.Status = store.StatusLoading
		return true
	})
	if !ok {
		return claimed, nil
	}
	return c.run(ctx, sig, fetch, pageRequest{first: true}, claimed.Generation, prev)
}

// LoadMore fetches the page after the last merged one and appends its unseen
// ids. A stale set is refreshed from page 1 instead.
func (c *Controller) LoadMore(ctx context.Context, sig store.Signature) (store.ResultSet, error) {
	fetch, ok := c.listings.Load(sig)
	if !ok {
		return store.ResultSet{}, fmt.Errorf("%w: %s", ErrUnknownSignature, sig)
	}

	var (
		req     pageRequest
		prev    store.Status
		failure error
	)
	claimed, ok := c.store.UpdateIf(sig, func(rs *store.ResultSet) bool {
		switch {
		case rs.InFlight:
			failure = ErrFetchInFlight
			return false
		case rs.Stale || rs.Status == store.StatusIdle:
			req = pageRequest{first: true}
		case !rs.HasMore():
			failure = ErrNoMorePages
			return false
		default:
			req = pageRequest{cursor: rs.NextCursor}
		}
		prev = rs.Status
		rs.InFlight = true
		rs.Status = store.StatusLoading
		return true
	})
	if !ok {
		return claimed, failure
	}
	return c.run(ctx, sig, fetch, req, claimed.Generation, prev)
}

// Retry re-issues the request that left sig in the error state. It is a
// no-op for sets that are not failed.
func (c *Controller) Retry(ctx context.Context, sig store.Signature) (store.ResultSet, error) {
	fetch, ok := c.listings.Load(sig)
	if !ok {
		return store.ResultSet{}, fmt.Errorf("%w: %s", ErrUnknownSignature, sig)
	}

	req, known := c.failed.Load(sig)
	if !known {
		req = pageRequest{first: true}
	}
	claimed, ok := c.store.UpdateIf(sig, func(rs *store.ResultSet) bool {
		if rs.InFlight || rs.Status != store.StatusError {
			return false
		}
		rs.InFlight = true
		rs.Status = store.StatusLoading
		return true
	})
	if !ok {
		return claimed, nil
	}
	return c.run(ctx, sig, fetch, req, claimed.Generation, store.StatusError)
}

// run performs one page request claimed under generation gen and commits
// the outcome unless the set was invalidated meanwhile.
func (c *Controller) run(ctx context.Context, sig store.Signature, fetch pageFunc, req pageRequest, gen uint64, prev store.Status) (store.ResultSet, error) {
	logger := c.logger.With("signature", sig.String(), "signature_digest", cache.Digest(sig.String()))

	entities, next, err := fetch(ctx, req.cursor, c.pageSize)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The caller went away; release the claim without recording a failure.
			rs, _ := c.store.UpdateIf(sig, func(rs *store.ResultSet) bool {
				if rs.Generation != gen {
					return false
				}
				rs.InFlight = false
				rs.Status = prev
				return true
			})
			return rs, err
		}

		rs, applied := c.store.UpdateIf(sig, func(rs *store.ResultSet) bool {
			if rs.Generation != gen {
				return false
			}
			rs.InFlight = false
			rs.Status = store.StatusError
			rs.Err = err
			rs.Stale = false
			return true
		})
		if applied {
			c.failed.Store(sig, req)
			logger.WarnContext(ctx, "page request failed", "first_page", req.first, "error", err)
		}
		return rs, err
	}

	rs, applied := c.store.Commit(sig, entities, func(rs *store.ResultSet) bool {
		if rs.Generation != gen {
			return false
		}
		if req.first {
			rs.IDs = rs.IDs[:0]
			rs.Pages = 0
		}
		for _, e := range entities {
			if id := e.EntityKey().ID; !rs.Contains(id) {
				rs.IDs = append(rs.IDs, id)
			}
		}
		rs.Pages++
		rs.NextCursor = next
		rs.Status = store.StatusSuccess
		rs.Err = nil
		rs.Stale = false
		rs.InFlight = false
		return true
	})
	if !applied {
		logger.DebugContext(ctx, "discarding page fetched under an outdated generation", "generation", gen)
		return rs, nil
	}
	c.failed.Delete(sig)
	logger.DebugContext(ctx, "page merged", "first_page", req.first, "ids", len(rs.IDs), "has_more", rs.HasMore())
	return rs, nil
}

// ItemsOf resolves the catalogue items listed by sig.
func (c *Controller) ItemsOf(sig store.Signature) []catalogue.Item {
	return resolve[catalogue.Item](c.store, sig)
}

// LendingsOf resolves the lending records listed by sig.
func (c *Controller) LendingsOf(sig store.Signature) []catalogue.LendingRecord {
	return resolve[catalogue.LendingRecord](c.store, sig)
}

func resolve[T store.Entity](st *store.Store, sig store.Signature) []T {
	entities := st.Resolve(sig)
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		if typed, ok := e.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
