package di

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-catalogue-cache/authz"
	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/mutation"
	"github.com/goliatone/go-catalogue-cache/pkg/testsupport"
	"github.com/goliatone/go-catalogue-cache/query"
	"github.com/goliatone/go-catalogue-cache/store"
	"github.com/goliatone/go-catalogue-cache/transport"
	"github.com/goliatone/go-catalogue-cache/view"
)

func newStack(t *testing.T, a *testsupport.Authority, token string, pageSize int) *Container {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Transport.BaseURL = a.URL()
	cfg.Transport.Timeout = 2 * time.Second
	cfg.Token = token
	cfg.PageSize = pageSize

	c, err := NewContainer(cfg)
	require.NoError(t, err)
	return c
}

func titles(items []catalogue.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}

func TestEndToEndBrowseAndLend(t *testing.T) {
	a := testsupport.NewAuthority(t)
	a.AddSession("reader", "u-1", "user")
	dune := a.AddBook("Dune", "Frank Herbert", 1)
	a.AddBook("Solaris", "Stanislaw Lem", 2)
	a.AddBook("Ubik", "Philip K. Dick", 3)

	c := newStack(t, a, "reader", 2)
	ctx := context.Background()
	q := c.Queries()
	sig := q.Items(catalogue.ItemFilter{})

	rs, err := q.Observe(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, rs.Status)
	assert.True(t, rs.HasMore())
	assert.Equal(t, []string{"Ubik", "Solaris"}, titles(q.ItemsOf(sig)))

	rs, err = q.LoadMore(ctx, sig)
	require.NoError(t, err)
	assert.False(t, rs.HasMore())
	assert.Equal(t, []string{"Ubik", "Solaris", "Dune"}, titles(q.ItemsOf(sig)))

	_, err = q.LoadMore(ctx, sig)
	assert.ErrorIs(t, err, query.ErrNoMorePages)

	_, err = q.Observe(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Calls(testsupport.RouteListBooks), "a fresh set is not refetched")

	detail, err := q.Item(ctx, dune)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.AvailableCopies)

	loan, err := c.Mutations().Checkout(ctx, catalogue.CheckoutInput{ItemID: dune})
	require.NoError(t, err)
	assert.True(t, loan.Active())
	assert.True(t, c.Store().ResultSet(sig).Stale)

	rs, err = q.Observe(ctx, sig)
	require.NoError(t, err)
	assert.False(t, rs.Stale)
	assert.Equal(t, 1, rs.Pages, "a stale set restarts from page 1")

	detail, err = q.Item(ctx, dune)
	require.NoError(t, err)
	assert.Equal(t, 0, detail.AvailableCopies)
	assert.Equal(t, 2, a.Calls(testsupport.RouteGetBook))

	_, err = c.Mutations().Checkout(ctx, catalogue.CheckoutInput{ItemID: dune})
	assert.ErrorIs(t, err, transport.ErrAlreadyBorrowed)
	assert.Equal(t, "You already have this book", transport.UserMessage(err))

	rec, err := c.Mutations().Return(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, rec.Active())
	assert.Equal(t, dune, rec.ItemID)

	_, err = c.Mutations().Return(ctx, loan.ID)
	assert.ErrorIs(t, err, transport.ErrAlreadyReturned)
}

func TestEndToEndLendingsByFilter(t *testing.T) {
	a := testsupport.NewAuthority(t)
	a.AddSession("staff", "lib-1", "librarian")
	dune := a.AddBook("Dune", "Frank Herbert", 3)
	ubik := a.AddBook("Ubik", "Philip K. Dick", 3)

	c := newStack(t, a, "staff", 20)
	ctx := context.Background()

	for _, in := range []catalogue.CheckoutInput{
		{ItemID: dune, BorrowerName: "Walk-in"},
		{ItemID: ubik, BorrowerName: "Walk-in"},
		{ItemID: dune},
	} {
		_, err := c.Mutations().Checkout(ctx, in)
		require.NoError(t, err)
	}

	q := c.Queries()
	duneSig := q.Lendings(catalogue.LendingFilter{ItemID: dune, All: true})
	allSig := q.Lendings(catalogue.LendingFilter{All: true})
	assert.NotEqual(t, duneSig, allSig)

	_, err := q.Observe(ctx, duneSig)
	require.NoError(t, err)
	_, err = q.Observe(ctx, allSig)
	require.NoError(t, err)

	assert.Len(t, q.LendingsOf(duneSig), 2)
	assert.Len(t, q.LendingsOf(allSig), 3)

	rec, ok := q.ActiveLending(dune, "lib-1")
	require.True(t, ok)
	assert.Equal(t, dune, rec.ItemID)
}

// The gate is advisory. A forged token unlocks the controls, but the write
// is still refused by the authority and nothing is committed locally.
func TestGateIsNotASecurityBoundary(t *testing.T) {
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "u-1",
		"role": "admin",
	}).SignedString([]byte("not-the-server-key"))
	require.NoError(t, err)

	a := testsupport.NewAuthority(t)
	a.AddSession(forged, "u-1", "user")

	c := newStack(t, a, forged, 20)
	require.True(t, c.Gate().Can(authz.ManageBooks))

	_, err = c.Mutations().CreateItem(context.Background(), catalogue.CreateItemInput{Title: "Solaris", Author: "Lem", AvailableCopies: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrForbidden)
	assert.Equal(t, 1, a.Calls(testsupport.RouteCreateBook))

	sig := c.Queries().Items(catalogue.ItemFilter{})
	_, err = c.Queries().Observe(context.Background(), sig)
	require.NoError(t, err)
	assert.Empty(t, c.Queries().ItemsOf(sig))
}

func TestSyncPermissionsGrantsWhatTheAuthorityReports(t *testing.T) {
	a := testsupport.NewAuthority(t)
	a.AddSession("opaque-staff", "lib-1", "librarian")

	c := newStack(t, a, "opaque-staff", 20)
	assert.True(t, c.Gate().Permissions().Empty(), "an opaque token derives nothing")

	perms, err := c.SyncPermissions(context.Background())
	require.NoError(t, err)
	assert.True(t, perms.Has(authz.ManageBooks))
	assert.True(t, perms.Has(authz.ViewAllLoans))
	assert.Equal(t, "lib-1", c.Gate().Subject())

	anon := newStack(t, a, "", 20)
	_, err = anon.SyncPermissions(context.Background())
	assert.ErrorIs(t, err, transport.ErrDomain)
	assert.True(t, anon.Gate().Permissions().Empty())
}

func TestConcurrentCheckoutIsDispatchedOnce(t *testing.T) {
	a := testsupport.NewAuthority(t)
	a.AddSession("reader", "u-1", "user")
	dune := a.AddBook("Dune", "Frank Herbert", 5)

	c := newStack(t, a, "reader", 20)
	release := a.Hold(testsupport.RouteCheckout)

	var wg sync.WaitGroup
	wg.Add(1)
	var first error
	go func() {
		defer wg.Done()
		_, first = c.Mutations().Checkout(context.Background(), catalogue.CheckoutInput{ItemID: dune})
	}()

	require.Eventually(t, func() bool {
		return c.Mutations().Pending(mutation.ItemTarget(dune)) && a.Calls(testsupport.RouteCheckout) == 1
	}, time.Second, time.Millisecond)

	_, err := c.Mutations().Checkout(context.Background(), catalogue.CheckoutInput{ItemID: dune})
	assert.ErrorIs(t, err, mutation.ErrInProgress)

	release()
	wg.Wait()
	require.NoError(t, first)
	assert.Equal(t, 1, a.Calls(testsupport.RouteCheckout))
	b, _ := a.Book(dune)
	assert.Equal(t, 4, b.AvailableCopies)
}

func TestFailedListRetries(t *testing.T) {
	a := testsupport.NewAuthority(t)
	a.AddBook("Dune", "Frank Herbert", 1)
	a.FailNext(testsupport.RouteListBooks, http.StatusServiceUnavailable, "", "")

	c := newStack(t, a, "", 20)
	q := c.Queries()
	sig := q.Items(catalogue.ItemFilter{Query: "dune"})

	rs, err := q.Observe(context.Background(), sig)
	assert.ErrorIs(t, err, transport.ErrHTTPFailure)
	assert.Equal(t, store.StatusError, rs.Status)

	rs, err = q.Observe(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, rs.Status, "observe leaves a failed set for retry")
	assert.Equal(t, 1, a.Calls(testsupport.RouteListBooks))

	rs, err = q.Retry(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, rs.Status)
	assert.Equal(t, []string{"Dune"}, titles(q.ItemsOf(sig)))
}

func TestUnreachableAuthority(t *testing.T) {
	a := testsupport.NewAuthority(t)
	c := newStack(t, a, "", 20)
	a.Close()

	_, err := c.Queries().Item(context.Background(), "b001")
	var te *transport.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, transport.KindUnreachable, te.Kind)
}

func TestLeavingTheListDoesNotAbortItsRequest(t *testing.T) {
	a := testsupport.NewAuthority(t)
	a.AddBook("Dune", "Frank Herbert", 1)

	c := newStack(t, a, "", 20)
	release := a.Hold(testsupport.RouteListBooks)

	var renders int
	var mu sync.Mutex
	list := view.NewItemList(c.Queries(), c.Store(), catalogue.ItemFilter{}, func(view.ItemListSnapshot) {
		mu.Lock()
		renders++
		mu.Unlock()
	})
	list.Mount(context.Background())
	require.Eventually(t, func() bool {
		return a.Calls(testsupport.RouteListBooks) == 1
	}, time.Second, time.Millisecond)

	list.Unmount()
	mu.Lock()
	before := renders
	mu.Unlock()
	release()
	list.Wait()

	mu.Lock()
	assert.Equal(t, before, renders)
	mu.Unlock()
	rs := c.Queries().State(c.Queries().Items(catalogue.ItemFilter{}))
	assert.Equal(t, store.StatusSuccess, rs.Status)
	assert.Len(t, rs.IDs, 1)
}
