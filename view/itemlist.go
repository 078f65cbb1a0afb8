package view

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/query"
	"github.com/goliatone/go-catalogue-cache/store"
)

// ItemSource is the query side an ItemList reads from. *query.Controller
// implements it.
type ItemSource interface {
	Items(filter catalogue.ItemFilter) store.Signature
	State(sig store.Signature) store.ResultSet
	Lists(sig store.Signature, id string) bool
	Observe(ctx context.Context, sig store.Signature) (store.ResultSet, error)
	LoadMore(ctx context.Context, sig store.Signature) (store.ResultSet, error)
	Retry(ctx context.Context, sig store.Signature) (store.ResultSet, error)
	ItemsOf(sig store.Signature) []catalogue.Item
}

// Subscriber delivers store change events. *store.Store implements it.
type Subscriber interface {
	Subscribe(topic store.Topic, fn store.Listener) (cancel func())
}

// ItemListSnapshot is what a catalogue list renders.
type ItemListSnapshot struct {
	Filter catalogue.ItemFilter
	State  store.ResultSet
	Items  []catalogue.Item
}

// ItemListOption configures an ItemList.
type ItemListOption func(*ItemList)

// WithQuietPeriod sets the search debounce delay.
func WithQuietPeriod(d time.Duration) ItemListOption {
	return func(l *ItemList) {
		l.debounce = NewDebouncer(d)
	}
}

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) ItemListOption {
	return func(l *ItemList) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// ItemList keeps one catalogue listing current while mounted. onChange is
// called with a fresh snapshot whenever the listing or one of its records
// changes; it is never called after Unmount.
type ItemList struct {
	source   ItemSource
	events   Subscriber
	onChange func(ItemListSnapshot)
	debounce *Debouncer
	logger   *slog.Logger

	mu          sync.Mutex
	filter      catalogue.ItemFilter
	sig         store.Signature
	mounted     bool
	ctx         context.Context
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewItemList binds filter to source. Nothing is fetched until Mount.
func NewItemList(source ItemSource, events Subscriber, filter catalogue.ItemFilter, onChange func(ItemListSnapshot), opts ...ItemListOption) *ItemList {
	l := &ItemList{
		source:   source,
		events:   events,
		onChange: onChange,
		debounce: NewDebouncer(DefaultQuietPeriod),
		logger:   slog.Default(),
		filter:   filter.Normalize(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.sig = source.Items(l.filter)
	return l
}

// Mount starts observing the current filter. Fetches keep ctx's values but
// not its cancellation: a page requested while mounted always lands in the
// store.
func (l *ItemList) Mount(ctx context.Context) {
	l.mu.Lock()
	if l.mounted {
		l.mu.Unlock()
		return
	}
	l.mounted = true
	l.ctx = context.WithoutCancel(ctx)
	l.unsubscribe = l.events.Subscribe(store.KindTopic(store.KindItem), l.onEvent)
	l.debounce.Reset()
	sig := l.sig
	l.mu.Unlock()

	l.observe(sig)
}

// Unmount stops observing. In-flight fetches still complete into the store,
// but their results are no longer delivered to onChange.
func (l *ItemList) Unmount() {
	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return
	}
	l.mounted = false
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.mu.Unlock()

	l.debounce.Stop()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Wait blocks until every fetch started by the list has returned.
func (l *ItemList) Wait() {
	l.wg.Wait()
}

// SetQuery applies free-text search after the quiet period.
func (l *ItemList) SetQuery(q string) {
	l.debounce.Trigger(func() {
		l.apply(func(f *catalogue.ItemFilter) { f.Query = q })
	})
}

// FlushQuery applies a pending search immediately.
func (l *ItemList) FlushQuery() {
	l.debounce.Flush()
}

// SetAuthor applies the author facet immediately.
func (l *ItemList) SetAuthor(author string) {
	l.apply(func(f *catalogue.ItemFilter) { f.Author = author })
}

// SetAvailableOnly applies the availability facet immediately.
func (l *ItemList) SetAvailableOnly(on bool) {
	l.apply(func(f *catalogue.ItemFilter) { f.AvailableOnly = on })
}

// SetSort applies the sort order immediately.
func (l *ItemList) SetSort(sort string) {
	l.apply(func(f *catalogue.ItemFilter) { f.Sort = sort })
}

// LoadMore asks for the next page in the background.
func (l *ItemList) LoadMore() {
	l.dispatch(l.source.LoadMore)
}

// Retry re-issues the failed request in the background.
func (l *ItemList) Retry() {
	l.dispatch(l.source.Retry)
}

// Snapshot returns the current rendering state.
func (l *ItemList) Snapshot() ItemListSnapshot {
	l.mu.Lock()
	filter, sig := l.filter, l.sig
	l.mu.Unlock()
	return l.snapshot(filter, sig)
}

func (l *ItemList) snapshot(filter catalogue.ItemFilter, sig store.Signature) ItemListSnapshot {
	return ItemListSnapshot{
		Filter: filter,
		State:  l.source.State(sig),
		Items:  l.source.ItemsOf(sig),
	}
}

// apply switches to the signature of the edited filter. Every distinct
// filter has its own result set, so switching back is served from cache.
func (l *ItemList) apply(edit func(*catalogue.ItemFilter)) {
	l.mu.Lock()
	next := l.filter
	edit(&next)
	next = next.Normalize()
	if next == l.filter {
		l.mu.Unlock()
		return
	}
	l.filter = next
	l.sig = l.source.Items(next)
	sig, mounted := l.sig, l.mounted
	l.mu.Unlock()

	if mounted {
		l.emit(sig)
		l.observe(sig)
	}
}

func (l *ItemList) observe(sig store.Signature) {
	l.dispatch(func(ctx context.Context, s store.Signature) (store.ResultSet, error) {
		if s != sig {
			return store.ResultSet{}, nil
		}
		return l.source.Observe(ctx, s)
	})
}

// dispatch runs fn for the current signature in the background and renders
// the outcome if the list is still mounted on that signature.
func (l *ItemList) dispatch(fn func(context.Context, store.Signature) (store.ResultSet, error)) {
	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return
	}
	ctx, sig := l.ctx, l.sig
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		_, err := fn(ctx, sig)
		if err != nil && !errors.Is(err, query.ErrNoMorePages) && !errors.Is(err, query.ErrFetchInFlight) && !errors.Is(err, context.Canceled) {
			l.logger.Debug("catalogue list fetch failed", "signature", sig.String(), "error", err)
		}
		l.emit(sig)
	}()
}

// emit renders sig if it is still the mounted signature.
func (l *ItemList) emit(sig store.Signature) {
	l.mu.Lock()
	live := l.mounted && l.sig == sig
	filter := l.filter
	l.mu.Unlock()
	if !live || l.onChange == nil {
		return
	}
	l.onChange(l.snapshot(filter, sig))
}

func (l *ItemList) onEvent(ev store.Event) {
	l.mu.Lock()
	sig, mounted := l.sig, l.mounted
	l.mu.Unlock()
	if !mounted {
		return
	}

	switch ev.Type {
	case store.ResultSetInvalidated:
		if ev.Signature == sig {
			l.observe(sig)
		}
	case store.ResultSetChanged:
		if ev.Signature == sig {
			l.emit(sig)
		}
	case store.EntityUpserted, store.EntityRemoved:
		if l.source.Lists(sig, ev.Key.ID) {
			l.emit(sig)
		}
	}
}
