package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	kind   Kind
	id     string
	copies int
}

func (r record) EntityKey() Key {
	return Key{Kind: r.kind, ID: r.id}
}

func item(id string, copies int) record {
	return record{kind: KindItem, id: id, copies: copies}
}

var (
	itemsNew  = Signature{Kind: KindItem, Key: "sort=createdAt:desc"}
	itemsAvl  = Signature{Kind: KindItem, Key: "availableOnly=true|sort=createdAt:desc"}
	lendingsA = Signature{Kind: KindLending, Key: "status=active"}
)

func Test_Upsert_LastWriteWins(t *testing.T) {
	s := New()

	s.Upsert(item("a", 3))
	s.Upsert(item("a", 2))

	got, ok := GetAs[record](s, Key{Kind: KindItem, ID: "a"})
	require.True(t, ok)
	assert.Equal(t, 2, got.copies)

	_, ok = s.Get(Key{Kind: KindLending, ID: "a"})
	assert.False(t, ok, "same id under another kind is a different record")
}

func Test_Upsert_VisibleThroughEveryResultSet(t *testing.T) {
	s := New()
	s.UpsertMany(item("a", 1), item("b", 1))
	s.Update(itemsNew, func(rs *ResultSet) { rs.IDs = []string{"a", "b"}; rs.Status = StatusSuccess })
	s.Update(itemsAvl, func(rs *ResultSet) { rs.IDs = []string{"b"}; rs.Status = StatusSuccess })

	s.Upsert(item("b", 0))

	for _, sig := range []Signature{itemsNew, itemsAvl} {
		var found bool
		for _, e := range s.Resolve(sig) {
			if e.EntityKey().ID == "b" {
				found = true
				assert.Equal(t, 0, e.(record).copies, "signature %s", sig)
			}
		}
		assert.True(t, found, "signature %s should list b", sig)
	}
}

func Test_ResultSet_UnknownSignatureIsIdle(t *testing.T) {
	s := New()

	rs := s.ResultSet(itemsNew)

	assert.Equal(t, StatusIdle, rs.Status)
	assert.Equal(t, itemsNew, rs.Signature)
	assert.Empty(t, rs.IDs)
	assert.Empty(t, s.Signatures())
}

func Test_ResultSet_ReturnsCopies(t *testing.T) {
	s := New()
	s.Update(itemsNew, func(rs *ResultSet) { rs.IDs = []string{"a"} })

	rs := s.ResultSet(itemsNew)
	rs.IDs[0] = "mutated"

	assert.Equal(t, []string{"a"}, s.ResultSet(itemsNew).IDs)
}

func Test_Lists(t *testing.T) {
	s := New()
	assert.False(t, s.Lists(itemsNew, "a"), "unknown signature lists nothing")

	s.Update(itemsNew, func(rs *ResultSet) { rs.IDs = []string{"a", "b"} })
	assert.True(t, s.Lists(itemsNew, "b"))
	assert.False(t, s.Lists(itemsNew, "c"))
	assert.False(t, s.Lists(itemsAvl, "a"))
}

func Test_UpdateIf_RejectedGuardCommitsNothing(t *testing.T) {
	s := New()
	var events []Event
	s.Subscribe(AllTopic, func(ev Event) { events = append(events, ev) })

	rs, ok := s.UpdateIf(itemsNew, func(rs *ResultSet) bool {
		rs.Status = StatusLoading
		return false
	})

	assert.False(t, ok)
	assert.Equal(t, StatusIdle, rs.Status)
	assert.Empty(t, s.Signatures())
	assert.Empty(t, events)
}

func Test_Commit_RecordsAndIDsTogether(t *testing.T) {
	s := New()
	var types []EventType
	s.Subscribe(AllTopic, func(ev Event) { types = append(types, ev.Type) })

	rs, ok := s.Commit(itemsNew, []Entity{item("a", 1), item("b", 2)}, func(rs *ResultSet) bool {
		rs.IDs = []string{"a", "b"}
		rs.Status = StatusSuccess
		return true
	})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, rs.IDs)
	assert.Len(t, s.Resolve(itemsNew), 2)
	assert.Equal(t, []EventType{EntityUpserted, EntityUpserted, ResultSetChanged}, types)

	_, ok = s.Commit(itemsNew, []Entity{item("a", 9), item("c", 1)}, func(*ResultSet) bool { return false })
	assert.False(t, ok)
	got, _ := GetAs[record](s, Key{Kind: KindItem, ID: "a"})
	assert.Equal(t, 1, got.copies, "rejected commit must not upsert")
	_, found := s.Get(Key{Kind: KindItem, ID: "c"})
	assert.False(t, found)
}

func Test_Invalidate_MarksMatchingSetsStaleAndKeepsData(t *testing.T) {
	s := New()
	s.Upsert(item("a", 1))
	s.Update(itemsNew, func(rs *ResultSet) { rs.IDs = []string{"a"}; rs.Status = StatusSuccess; rs.InFlight = true })
	s.Update(lendingsA, func(rs *ResultSet) { rs.Status = StatusSuccess })
	before := s.ResultSet(itemsNew).Generation

	n := s.Invalidate(ForKind(KindItem))

	assert.Equal(t, 1, n)
	items := s.ResultSet(itemsNew)
	assert.True(t, items.Stale)
	assert.False(t, items.InFlight)
	assert.Equal(t, before+1, items.Generation)
	assert.Equal(t, []string{"a"}, items.IDs)
	assert.Equal(t, StatusSuccess, items.Status)
	assert.Len(t, s.Resolve(itemsNew), 1)

	assert.False(t, s.ResultSet(lendingsA).Stale)
}

func Test_Invalidate_Predicates(t *testing.T) {
	s := New()
	for _, sig := range []Signature{itemsNew, itemsAvl, lendingsA} {
		s.Update(sig, func(rs *ResultSet) {})
	}

	assert.Equal(t, 1, s.Invalidate(Exactly(itemsAvl)))
	assert.Equal(t, 3, s.Invalidate(All()))
	assert.Equal(t, 3, s.Invalidate(ForKind(KindItem, KindLending)))
	assert.Equal(t, 0, s.Invalidate(nil))
}

func Test_Remove_StripsIDFromResultSetsOfSameKind(t *testing.T) {
	s := New()
	s.UpsertMany(item("a", 1), item("b", 1))
	s.Update(itemsNew, func(rs *ResultSet) { rs.IDs = []string{"a", "b"} })
	s.Update(lendingsA, func(rs *ResultSet) { rs.IDs = []string{"a"} })

	assert.True(t, s.Remove(Key{Kind: KindItem, ID: "a"}))

	assert.Equal(t, []string{"b"}, s.ResultSet(itemsNew).IDs)
	assert.Equal(t, []string{"a"}, s.ResultSet(lendingsA).IDs, "lending ids are a different namespace")
	_, ok := s.Get(Key{Kind: KindItem, ID: "a"})
	assert.False(t, ok)
	assert.False(t, s.Remove(Key{Kind: KindItem, ID: "a"}))
}

func Test_Subscribe_TopicsAndCancel(t *testing.T) {
	s := New()
	var entity, signature, kind []Event

	cancelEntity := s.Subscribe(EntityTopic(Key{Kind: KindItem, ID: "a"}), func(ev Event) { entity = append(entity, ev) })
	s.Subscribe(SignatureTopic(itemsNew), func(ev Event) { signature = append(signature, ev) })
	s.Subscribe(KindTopic(KindItem), func(ev Event) { kind = append(kind, ev) })

	s.Upsert(item("a", 1))
	s.Upsert(item("b", 1))
	s.Update(itemsNew, func(rs *ResultSet) {})
	s.Update(lendingsA, func(rs *ResultSet) {})
	s.Invalidate(All())

	cancelEntity()
	cancelEntity()
	s.Upsert(item("a", 2))

	assert.Len(t, entity, 1)
	assert.Equal(t, EntityUpserted, entity[0].Type)
	assert.Equal(t, []EventType{ResultSetChanged, ResultSetInvalidated}, types(signature))
	assert.Equal(t, []EventType{EntityUpserted, EntityUpserted, ResultSetChanged, ResultSetInvalidated, EntityUpserted}, types(kind))
}

func Test_Subscribe_ListenerMayReadStore(t *testing.T) {
	s := New()
	var seen int
	s.Subscribe(KindTopic(KindItem), func(ev Event) {
		if e, ok := GetAs[record](s, ev.Key); ok {
			seen = e.copies
		}
	})

	s.Upsert(item("a", 7))

	assert.Equal(t, 7, seen)
}

func Test_ConcurrentUpserts(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Upsert(item("a", n))
			s.Update(itemsNew, func(rs *ResultSet) {
				if !rs.Contains("a") {
					rs.IDs = append(rs.IDs, "a")
				}
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{"a"}, s.ResultSet(itemsNew).IDs)
	_, ok := s.Get(Key{Kind: KindItem, ID: "a"})
	assert.True(t, ok)
}

func types(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}
