package query

import (
	"context"
	"strconv"

	"github.com/goliatone/go-catalogue-cache/cache"
	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/store"
)

// DefaultUserLimit is the directory size requested by Users.
const DefaultUserLimit = 100

// ItemDetailKey is the read-through cache key of an item's detail.
func ItemDetailKey(id string) string {
	return cache.Key(cache.NamespaceItemDetail, id)
}

// Item returns a single catalogue item. Concurrent calls for the same id share
// one request. A fetched item is upserted into the store, and when the store
// holds a record for the id that record is returned, so a detail view never
// shows an older payload than a list already did.
func (c *Controller) Item(ctx context.Context, id string) (catalogue.Item, error) {
	fetched, err := cache.GetOrFetch(ctx, c.detail, ItemDetailKey(id), func(ctx context.Context) (catalogue.Item, error) {
		item, err := c.api.GetItem(ctx, id)
		if err != nil {
			return catalogue.Item{}, err
		}
		c.store.Upsert(item)
		return item, nil
	})
	if err != nil {
		return catalogue.Item{}, err
	}
	if current, ok := store.GetAs[catalogue.Item](c.store, catalogue.ItemKey(id)); ok {
		return current, nil
	}
	return fetched, nil
}

// Users returns the borrower directory.
func (c *Controller) Users(ctx context.Context) ([]catalogue.User, error) {
	key := cache.Key(cache.NamespaceUsers, strconv.Itoa(DefaultUserLimit))
	return cache.GetOrFetch(ctx, c.detail, key, func(ctx context.Context) ([]catalogue.User, error) {
		return c.api.ListUsers(ctx, DefaultUserLimit)
	})
}

// Analytics returns the dashboard summary for the last days days.
func (c *Controller) Analytics(ctx context.Context, days int) (catalogue.AnalyticsSummary, error) {
	key := cache.Key(cache.NamespaceAnalytics, strconv.Itoa(days))
	return cache.GetOrFetch(ctx, c.detail, key, func(ctx context.Context) (catalogue.AnalyticsSummary, error) {
		return c.api.AnalyticsSummary(ctx, days)
	})
}

// ActiveLending looks for a cached active lending record of itemID by
// borrower. It only knows what the client has seen, so it can be wrong in
// both directions; the authority decides.
func (c *Controller) ActiveLending(itemID, borrower string) (catalogue.LendingRecord, bool) {
	var found catalogue.LendingRecord
	var ok bool
	c.store.Scan(store.KindLending, func(e store.Entity) bool {
		rec, isRec := e.(catalogue.LendingRecord)
		if !isRec || rec.ItemID != itemID || !rec.Active() || rec.Borrower() != borrower {
			return true
		}
		found, ok = rec, true
		return false
	})
	return found, ok
}
