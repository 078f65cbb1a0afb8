// Package store holds the normalized entity cache shared by every view:
// canonical records keyed by kind and opaque id, and list result sets that
// reference those records by id. A single record update is therefore visible
// to every result set listing it.
package store

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store is the normalized entity cache: canonical records keyed by Key plus
// result sets keyed by Signature that reference those records by id.
//
// Every mutating method commits under a single lock, so an upsert is never
// observed half-applied. Subscribers are notified after the lock is released.
type Store struct {
	mu      sync.RWMutex
	records map[Key]Entity
	results map[Signature]*ResultSet

	subs   *registry
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty, isolated store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[Key]Entity),
		results: make(map[Signature]*ResultSet),
		subs:    newRegistry(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for topic and returns a function that removes it.
func (s *Store) Subscribe(topic Topic, fn Listener) (cancel func()) {
	return s.subs.add(topic, fn)
}

// Upsert replaces the canonical record for e's key. The last payload to
// arrive wins; the authority is the only source of truth.
func (s *Store) Upsert(e Entity) {
	s.UpsertMany(e)
}

// UpsertMany commits all records in one step.
func (s *Store) UpsertMany(entities ...Entity) {
	if len(entities) == 0 {
		return
	}
	events := make([]Event, 0, len(entities))

	s.mu.Lock()
	for _, e := range entities {
		if e == nil {
			continue
		}
		key := e.EntityKey()
		s.records[key] = e
		events = append(events, Event{Type: EntityUpserted, Key: key})
	}
	s.mu.Unlock()

	s.subs.dispatch(events)
}

// Get returns the canonical record for k.
func (s *Store) Get(k Key) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[k]
	return e, ok
}

// GetAs is a type-safe wrapper around Store.Get.
func GetAs[T Entity](s *Store, k Key) (T, bool) {
	var zero T
	e, ok := s.Get(k)
	if !ok {
		return zero, false
	}
	typed, ok := e.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Remove drops a record the authority confirmed deleted and strips its id
// from every result set of the same kind.
func (s *Store) Remove(k Key) bool {
	s.mu.Lock()
	_, existed := s.records[k]
	delete(s.records, k)

	events := []Event{{Type: EntityRemoved, Key: k}}
	for sig, rs := range s.results {
		if sig.Kind != k.Kind || !rs.Contains(k.ID) {
			continue
		}
		rs.IDs = slices.DeleteFunc(slices.Clone(rs.IDs), func(id string) bool { return id == k.ID })
		rs.UpdatedAt = s.now()
		events = append(events, Event{Type: ResultSetChanged, Signature: sig})
	}
	s.mu.Unlock()

	s.subs.dispatch(events)
	return existed
}

// Scan calls fn for every record of kind until fn returns false.
// fn runs under the read lock and must not call back into the store.
func (s *Store) Scan(kind Kind, fn func(Entity) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, e := range s.records {
		if k.Kind != kind {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// ResultSet returns a copy of the result set for sig. Unknown signatures
// report StatusIdle.
func (s *Store) ResultSet(sig Signature) ResultSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rs, ok := s.results[sig]; ok {
		return rs.clone()
	}
	return ResultSet{Signature: sig, Status: StatusIdle}
}

// Lists reports whether the result set for sig references id, without
// copying it.
func (s *Store) Lists(sig Signature, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.results[sig]
	return ok && rs.Contains(id)
}

// Update applies fn to the result set for sig atomically, creating it on
// first use, and returns the committed copy.
func (s *Store) Update(sig Signature, fn func(*ResultSet)) ResultSet {
	rs, _ := s.UpdateIf(sig, func(rs *ResultSet) bool {
		fn(rs)
		return true
	})
	return rs
}

// UpdateIf is Update with a guard: when fn returns false nothing is
// committed, no event is emitted and the current state is returned.
func (s *Store) UpdateIf(sig Signature, fn func(*ResultSet) bool) (ResultSet, bool) {
	return s.Commit(sig, nil, fn)
}

// Commit upserts entities and applies fn to the result set for sig in one
// step. When fn returns false neither the records nor the result set change,
// so a page fetched under an outdated generation leaves no trace.
func (s *Store) Commit(sig Signature, entities []Entity, fn func(*ResultSet) bool) (ResultSet, bool) {
	s.mu.Lock()
	rs, ok := s.results[sig]
	if !ok {
		rs = &ResultSet{Signature: sig, Status: StatusIdle}
	}
	working := rs.clone()
	if !fn(&working) {
		out := rs.clone()
		s.mu.Unlock()
		return out, false
	}

	events := make([]Event, 0, len(entities)+1)
	for _, e := range entities {
		if e == nil {
			continue
		}
		key := e.EntityKey()
		s.records[key] = e
		events = append(events, Event{Type: EntityUpserted, Key: key})
	}
	working.Signature = sig
	working.UpdatedAt = s.now()
	*rs = working
	s.results[sig] = rs
	out := working.clone()
	s.mu.Unlock()

	events = append(events, Event{Type: ResultSetChanged, Signature: sig})
	s.subs.dispatch(events)
	return out, true
}

// Resolve returns the canonical records listed by sig, in result order.
// Ids without a cached record are skipped.
func (s *Store) Resolve(sig Signature) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.results[sig]
	if !ok {
		return nil
	}
	out := make([]Entity, 0, len(rs.IDs))
	for _, id := range rs.IDs {
		if e, ok := s.records[Key{Kind: sig.Kind, ID: id}]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Invalidate marks every result set matching pred as stale. Ids and records
// are kept so views keep rendering until the refetch lands. Pending page
// requests for those sets are abandoned: their generation no longer matches.
func (s *Store) Invalidate(pred Predicate) int {
	if pred == nil {
		return 0
	}

	s.mu.Lock()
	var events []Event
	for sig, rs := range s.results {
		if !pred(sig) {
			continue
		}
		rs.Stale = true
		rs.InFlight = false
		rs.Generation++
		events = append(events, Event{Type: ResultSetInvalidated, Signature: sig})
	}
	s.mu.Unlock()

	if len(events) > 0 {
		s.logger.Debug("result sets invalidated", "count", len(events))
	}
	s.subs.dispatch(events)
	return len(events)
}

// Signatures lists the cached result set signatures.
func (s *Store) Signatures() []Signature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Signature, 0, len(s.results))
	for sig := range s.results {
		out = append(out, sig)
	}
	slices.SortFunc(out, func(a, b Signature) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}
