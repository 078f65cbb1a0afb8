package catalogue

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goliatone/go-catalogue-cache/transport"
)

// Page is one page of a cursor-paginated listing. An empty NextCursor means
// the listing is exhausted.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor"`
}

// Doer executes a request against the authority. *transport.Client
// implements it.
type Doer interface {
	Do(ctx context.Context, req transport.Request, out any) error
}

// Client is the typed API of the authority.
type Client struct {
	doer Doer
}

// NewClient wraps doer.
func NewClient(doer Doer) *Client {
	return &Client{doer: doer}
}

// ListItems fetches one page of the catalogue.
func (c *Client) ListItems(ctx context.Context, filter ItemFilter, cursor string, limit int) (Page[Item], error) {
	q := url.Values{}
	setIf(q, "query", filter.Query)
	setIf(q, "author", filter.Author)
	if filter.AvailableOnly {
		q.Set("availableOnly", "true")
	}
	setIf(q, "sort", filter.Sort)
	setPaging(q, cursor, limit)

	var page Page[Item]
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/v1/books", Query: q}, &page)
	return page, err
}

// GetItem fetches a single catalogue item.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var item Item
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: itemPath(id)}, &item)
	return item, err
}

// CreateItem adds a catalogue item and returns the authority's record.
func (c *Client) CreateItem(ctx context.Context, in CreateItemInput) (Item, error) {
	var item Item
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodPost, Path: "/v1/books", Body: in}, &item)
	return item, err
}

// DeleteItem removes a catalogue item. The authority answers 204.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.doer.Do(ctx, transport.Request{Method: http.MethodDelete, Path: itemPath(id)}, nil)
}

// ListLendings fetches one page of lending records.
func (c *Client) ListLendings(ctx context.Context, filter LendingFilter, cursor string, limit int) (Page[LendingRecord], error) {
	q := url.Values{}
	setIf(q, "bookId", filter.ItemID)
	if filter.Status != "" {
		q.Set("status", filter.Status.Wire())
	}
	if filter.All {
		q.Set("all", "true")
	}
	setPaging(q, cursor, limit)

	var page Page[LendingRecord]
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/v1/loans", Query: q}, &page)
	return page, err
}

// Checkout lends an item and returns the new lending record.
func (c *Client) Checkout(ctx context.Context, in CheckoutInput) (LendingRecord, error) {
	var rec LendingRecord
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodPost, Path: "/v1/loans", Body: in}, &rec)
	return rec, err
}

// Return closes a lending record and returns it.
func (c *Client) Return(ctx context.Context, lendingID string) (LendingRecord, error) {
	var rec LendingRecord
	path := "/v1/loans/" + url.PathEscape(lendingID) + "/return"
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodPost, Path: path}, &rec)
	return rec, err
}

// Whoami returns the identity and permissions the authority grants the
// current session.
func (c *Client) Whoami(ctx context.Context) (Whoami, error) {
	var who Whoami
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/v1/whoami"}, &who)
	return who, err
}

// ListUsers fetches the borrower directory.
func (c *Client) ListUsers(ctx context.Context, limit int) ([]User, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var users []User
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/v1/users", Query: q}, &users)
	return users, err
}

// AnalyticsSummary fetches the dashboard digest for the last days days.
func (c *Client) AnalyticsSummary(ctx context.Context, days int) (AnalyticsSummary, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var summary AnalyticsSummary
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/v1/analytics/summary", Query: q}, &summary)
	return summary, err
}

// Health polls the authority's unversioned liveness endpoint. It needs no
// session.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.doer.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/health"}, &h)
	return h, err
}

func itemPath(id string) string {
	return "/v1/books/" + url.PathEscape(id)
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func setPaging(q url.Values, cursor string, limit int) {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setIf(q, "cursor", cursor)
}
