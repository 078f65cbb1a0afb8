// Package catalogue defines the records the authority serves (catalogue
// items and lending records), the filters used to list them, and a typed
// client for the authority's HTTP API.
package catalogue

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/goliatone/go-catalogue-cache/store"
)

// Item is a catalogue entry. AvailableCopies is owned by the authority and is
// only ever replaced by a server payload.
type Item struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Description     string    `json:"description,omitempty"`
	ISBN            string    `json:"isbn,omitempty"`
	PublishedYear   int       `json:"publishedYear,omitempty"`
	AvailableCopies int       `json:"availableCopies"`
	CoverImageURL   string    `json:"coverImageUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ItemKey returns the store key for a catalogue item id.
func ItemKey(id string) store.Key {
	return store.Key{Kind: store.KindItem, ID: id}
}

// EntityKey implements store.Entity.
func (i Item) EntityKey() store.Key {
	return ItemKey(i.ID)
}

// Available reports whether at least one copy can be checked out.
func (i Item) Available() bool {
	return i.AvailableCopies > 0
}

// Sort orders accepted by the item listing.
const (
	SortNewest   = "createdAt:desc"
	SortOldest   = "createdAt:asc"
	SortTitleAsc = "title:asc"
)

// Sorts lists the accepted sort values, default first.
var Sorts = []string{SortNewest, SortOldest, SortTitleAsc}

// ItemFilter selects a catalogue listing. Page size and cursor are not part
// of the filter: they vary between pages of the same result set.
type ItemFilter struct {
	Query         string `signature:"query"`
	Author        string `signature:"author"`
	AvailableOnly bool   `signature:"availableOnly"`
	Sort          string `signature:"sort"`
}

// Normalize trims free text and fills the default sort so that equivalent
// filters produce the same signature.
func (f ItemFilter) Normalize() ItemFilter {
	f.Query = strings.TrimSpace(f.Query)
	f.Author = strings.TrimSpace(f.Author)
	f.Sort = strings.TrimSpace(f.Sort)
	if f.Sort == "" {
		f.Sort = SortNewest
	}
	return f
}

// Validate rejects sort values the authority does not accept.
func (f ItemFilter) Validate() error {
	sorts := make([]any, len(Sorts))
	for i, s := range Sorts {
		sorts[i] = s
	}
	return validation.ValidateStruct(&f,
		validation.Field(&f.Sort, validation.In(sorts...).Error("must be one of "+strings.Join(Sorts, ", "))),
	)
}

// CreateItemInput is the payload for adding a catalogue item.
type CreateItemInput struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	Description     string `json:"description,omitempty"`
	ISBN            string `json:"isbn,omitempty"`
	PublishedYear   int    `json:"publishedYear,omitempty"`
	AvailableCopies int    `json:"availableCopies"`
	CoverImageURL   string `json:"coverImageUrl,omitempty"`
}

// Normalize trims every text field.
func (in CreateItemInput) Normalize() CreateItemInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Description = strings.TrimSpace(in.Description)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.CoverImageURL = strings.TrimSpace(in.CoverImageURL)
	return in
}

// Validate applies the same rules the authority enforces on create.
func (in CreateItemInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.By(notBlank)),
		validation.Field(&in.Author, validation.By(notBlank)),
		validation.Field(&in.PublishedYear, validation.Min(0)),
		validation.Field(&in.AvailableCopies, validation.Min(0)),
		validation.Field(&in.CoverImageURL, is.URL),
	)
}

var errBlank = errors.New("must not be blank")

func notBlank(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errBlank
	}
	return nil
}
