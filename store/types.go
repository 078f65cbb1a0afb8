package store

import (
	"slices"
	"time"
)

// Kind names an entity kind held by the store.
type Kind string

const (
	KindItem    Kind = "item"
	KindLending Kind = "lending"
)

// Key identifies a canonical record. IDs are opaque and never parsed.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID
}

// Entity is anything the store can hold as a canonical record.
type Entity interface {
	EntityKey() Key
}

// Status is the fetch state of a result set.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Signature identifies a result set: the entity kind it lists plus the
// canonical encoding of the filter that produced it.
type Signature struct {
	Kind Kind
	Key  string
}

func (s Signature) String() string {
	return string(s.Kind) + "::" + s.Key
}

// ResultSet is the cached outcome of a list query. It holds ids only; the
// records live in the store.
type ResultSet struct {
	Signature  Signature
	IDs        []string
	NextCursor string
	Status     Status
	Err        error
	// Stale is set by invalidation; the next observation refetches.
	Stale bool
	// InFlight is set while a page request for this signature is pending.
	InFlight bool
	// Generation changes whenever pending results must be discarded.
	Generation uint64
	// Pages counts the pages currently merged into IDs.
	Pages     int
	UpdatedAt time.Time
}

// HasMore reports whether the authority returned a continuation cursor.
func (r ResultSet) HasMore() bool {
	return r.NextCursor != ""
}

// Contains reports whether id is already listed.
func (r ResultSet) Contains(id string) bool {
	return slices.Contains(r.IDs, id)
}

func (r ResultSet) clone() ResultSet {
	r.IDs = slices.Clone(r.IDs)
	return r
}

// Predicate selects result sets by signature.
type Predicate func(Signature) bool

// ForKind matches every result set listing the given kinds.
func ForKind(kinds ...Kind) Predicate {
	return func(s Signature) bool {
		return slices.Contains(kinds, s.Kind)
	}
}

// All matches every result set.
func All() Predicate {
	return func(Signature) bool { return true }
}

// Exactly matches a single signature.
func Exactly(sig Signature) Predicate {
	return func(s Signature) bool { return s == sig }
}
