package view

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-catalogue-cache/cache"
	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/query"
	"github.com/goliatone/go-catalogue-cache/store"
)

type catalogueStub struct {
	mu      sync.Mutex
	queries []catalogue.ItemFilter
	gate    chan struct{}
	round   atomic.Int32
}

func (s *catalogueStub) ListItems(ctx context.Context, f catalogue.ItemFilter, cursor string, limit int) (catalogue.Page[catalogue.Item], error) {
	s.mu.Lock()
	s.queries = append(s.queries, f)
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return catalogue.Page[catalogue.Item]{}, ctx.Err()
		}
	}
	id := "b" + f.Query
	if s.round.Load() > 0 {
		id += "-v2"
	}
	return catalogue.Page[catalogue.Item]{Items: []catalogue.Item{{ID: id, Title: "t"}}}, nil
}

func (s *catalogueStub) ListLendings(context.Context, catalogue.LendingFilter, string, int) (catalogue.Page[catalogue.LendingRecord], error) {
	return catalogue.Page[catalogue.LendingRecord]{}, nil
}

func (s *catalogueStub) GetItem(context.Context, string) (catalogue.Item, error) {
	return catalogue.Item{}, nil
}

func (s *catalogueStub) ListUsers(context.Context, int) ([]catalogue.User, error) { return nil, nil }

func (s *catalogueStub) AnalyticsSummary(context.Context, int) (catalogue.AnalyticsSummary, error) {
	return catalogue.AnalyticsSummary{}, nil
}

func (s *catalogueStub) seen() []catalogue.ItemFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalogue.ItemFilter(nil), s.queries...)
}

type recorder struct {
	mu    sync.Mutex
	snaps []ItemListSnapshot
}

func (r *recorder) record(s ItemListSnapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() ItemListSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return ItemListSnapshot{}
	}
	return r.snaps[len(r.snaps)-1]
}

func setup(t *testing.T) (*catalogueStub, *store.Store, *query.Controller) {
	t.Helper()
	detail, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	api := &catalogueStub{}
	st := store.New()
	return api, st, query.New(api, st, detail)
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var got atomic.Value
	var calls atomic.Int32

	for _, q := range []string{"d", "du", "dun", "dune"} {
		q := q
		d.Trigger(func() {
			calls.Add(1)
			got.Store(q)
		})
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "dune", got.Load())
}

func TestDebouncer_FlushAndStop(t *testing.T) {
	d := NewDebouncer(time.Hour)
	var calls atomic.Int32

	d.Trigger(func() { calls.Add(1) })
	d.Flush()
	assert.Equal(t, int32(1), calls.Load())
	d.Flush()
	assert.Equal(t, int32(1), calls.Load(), "nothing pending after a flush")

	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Flush()
	d.Trigger(func() { calls.Add(1) })
	d.Flush()
	assert.Equal(t, int32(1), calls.Load())

	d.Reset()
	d.Trigger(func() { calls.Add(1) })
	d.Flush()
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewDebouncer_DefaultDelay(t *testing.T) {
	assert.Equal(t, DefaultQuietPeriod, NewDebouncer(0).delay)
	assert.Equal(t, 300*time.Millisecond, DefaultQuietPeriod)
}

func TestItemList_MountRenders(t *testing.T) {
	_, st, ctrl := setup(t)
	rec := &recorder{}
	list := NewItemList(ctrl, st, catalogue.ItemFilter{}, rec.record)

	list.Mount(context.Background())
	list.Wait()

	snap := list.Snapshot()
	assert.Equal(t, store.StatusSuccess, snap.State.Status)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "b", snap.Items[0].ID)
	assert.Equal(t, catalogue.SortNewest, snap.Filter.Sort)
	assert.Equal(t, store.StatusSuccess, rec.last().State.Status)

	list.Unmount()
}

func TestItemList_SearchIsDebouncedFacetsAreNot(t *testing.T) {
	api, st, ctrl := setup(t)
	list := NewItemList(ctrl, st, catalogue.ItemFilter{}, nil, WithQuietPeriod(30*time.Millisecond))
	list.Mount(context.Background())
	list.Wait()
	defer list.Unmount()

	for _, q := range []string{"d", "du", "dun", "dune"} {
		list.SetQuery(q)
	}
	assert.Len(t, api.seen(), 1, "no fetch before the quiet period ends")

	require.Eventually(t, func() bool { return len(api.seen()) == 2 }, time.Second, time.Millisecond)
	list.Wait()
	assert.Equal(t, "dune", api.seen()[1].Query)
	assert.Equal(t, "dune", list.Snapshot().Filter.Query)

	list.SetAvailableOnly(true)
	list.Wait()
	seen := api.seen()
	require.Len(t, seen, 3)
	assert.True(t, seen[2].AvailableOnly)
	assert.Equal(t, "dune", seen[2].Query)

	// Back to a filter seen before: served from the cached result set.
	list.SetAvailableOnly(false)
	list.Wait()
	assert.Len(t, api.seen(), 3)
	assert.Equal(t, "bdune", list.Snapshot().Items[0].ID)
}

func TestItemList_UnmountKeepsFetchButDropsRender(t *testing.T) {
	api, st, ctrl := setup(t)
	api.gate = make(chan struct{})
	rec := &recorder{}
	list := NewItemList(ctrl, st, catalogue.ItemFilter{}, rec.record)
	sig := ctrl.Items(catalogue.ItemFilter{})

	list.Mount(context.Background())
	require.Eventually(t, func() bool { return len(api.seen()) == 1 }, time.Second, time.Millisecond)
	list.Unmount()
	delivered := rec.count()

	close(api.gate)
	list.Wait()

	assert.Equal(t, delivered, rec.count(), "no render after unmount")
	rs := ctrl.State(sig)
	assert.Equal(t, store.StatusSuccess, rs.Status)
	assert.Equal(t, []string{"b"}, rs.IDs)
}

func TestItemList_CancelledMountContextDoesNotAbortFetch(t *testing.T) {
	api, st, ctrl := setup(t)
	api.gate = make(chan struct{})
	sig := ctrl.Items(catalogue.ItemFilter{})
	list := NewItemList(ctrl, st, catalogue.ItemFilter{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	list.Mount(ctx)
	require.Eventually(t, func() bool { return len(api.seen()) == 1 }, time.Second, time.Millisecond)
	cancel()
	list.Unmount()

	close(api.gate)
	list.Wait()

	assert.True(t, ctrl.Lists(sig, "b"))
}

func TestItemList_RefetchesOnInvalidation(t *testing.T) {
	api, st, ctrl := setup(t)
	rec := &recorder{}
	list := NewItemList(ctrl, st, catalogue.ItemFilter{}, rec.record)
	list.Mount(context.Background())
	list.Wait()
	defer list.Unmount()

	api.round.Store(1)
	st.Invalidate(store.ForKind(store.KindItem))

	require.Eventually(t, func() bool {
		items := rec.last().Items
		return len(items) == 1 && items[0].ID == "b-v2"
	}, time.Second, time.Millisecond)
	list.Wait()
	assert.Len(t, api.seen(), 2)
}

func TestItemList_RecordUpdateRerenders(t *testing.T) {
	_, st, ctrl := setup(t)
	rec := &recorder{}
	list := NewItemList(ctrl, st, catalogue.ItemFilter{}, rec.record)
	list.Mount(context.Background())
	list.Wait()
	defer list.Unmount()

	st.Upsert(catalogue.Item{ID: "b", Title: "renamed"})
	assert.Equal(t, "renamed", rec.last().Items[0].Title)

	before := rec.count()
	st.Upsert(catalogue.Item{ID: "unrelated"})
	assert.Equal(t, before, rec.count())
}
