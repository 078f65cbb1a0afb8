package catalogue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-catalogue-cache/store"
)

// LendingStatus is the state of a lending record.
type LendingStatus string

const (
	StatusActive   LendingStatus = "active"
	StatusReturned LendingStatus = "returned"
)

// wireActive is the authority's spelling of StatusActive.
const wireActive = "borrowed"

// MarshalText encodes the status the way the authority spells it.
func (s LendingStatus) MarshalText() ([]byte, error) {
	if s == StatusActive {
		return []byte(wireActive), nil
	}
	return []byte(s), nil
}

// UnmarshalText accepts both the authority's and the client's spelling.
func (s *LendingStatus) UnmarshalText(b []byte) error {
	switch v := strings.ToLower(strings.TrimSpace(string(b))); v {
	case wireActive, string(StatusActive):
		*s = StatusActive
	case string(StatusReturned):
		*s = StatusReturned
	default:
		return fmt.Errorf("unknown lending status %q", v)
	}
	return nil
}

// Wire returns the query parameter value for the status.
func (s LendingStatus) Wire() string {
	b, _ := s.MarshalText()
	return string(b)
}

// LendingRecord is one checkout of a catalogue item. The borrower is either
// a registered user or a free-text name, never both.
type LendingRecord struct {
	ID                string        `json:"id"`
	ItemID            string        `json:"bookId"`
	BorrowerUserID    string        `json:"borrowerUserId,omitempty"`
	BorrowerName      string        `json:"borrowerName,omitempty"`
	Status            LendingStatus `json:"status"`
	BorrowedAt        time.Time     `json:"borrowedAt"`
	ReturnedAt        *time.Time    `json:"returnedAt,omitempty"`
	ProcessedBy       string        `json:"processedBy,omitempty"`
	ItemTitle         string        `json:"bookTitle"`
	ItemAuthor        string        `json:"bookAuthor"`
	ItemCoverImageURL string        `json:"bookCoverImageUrl,omitempty"`
}

// LendingKey returns the store key for a lending record id.
func LendingKey(id string) store.Key {
	return store.Key{Kind: store.KindLending, ID: id}
}

// EntityKey implements store.Entity.
func (l LendingRecord) EntityKey() store.Key {
	return LendingKey(l.ID)
}

// Borrower returns the user id or, for walk-in borrowers, the name.
func (l LendingRecord) Borrower() string {
	if l.BorrowerUserID != "" {
		return l.BorrowerUserID
	}
	return l.BorrowerName
}

// Active reports whether the item is still out.
func (l LendingRecord) Active() bool {
	return l.Status == StatusActive
}

var (
	ErrBorrowerConflict = errors.New("lending record names both a borrower user and a borrower name")
	ErrBorrowerMissing  = errors.New("lending record has no borrower")
	ErrReturnedAt       = errors.New("returnedAt must be set if and only if the record is returned")
)

// Validate checks the record's structural rules. The client never rejects
// an authority payload with it; it only flags malformed records in logs.
func (l LendingRecord) Validate() error {
	var errs []error
	switch {
	case l.BorrowerUserID != "" && l.BorrowerName != "":
		errs = append(errs, ErrBorrowerConflict)
	case l.BorrowerUserID == "" && l.BorrowerName == "":
		errs = append(errs, ErrBorrowerMissing)
	}
	if (l.Status == StatusReturned) != (l.ReturnedAt != nil) {
		errs = append(errs, ErrReturnedAt)
	}
	return errors.Join(errs...)
}

// LendingFilter selects a lending listing. All asks for every borrower's
// records; the authority only honours it for callers allowed to see them.
type LendingFilter struct {
	ItemID string        `signature:"itemId"`
	Status LendingStatus `signature:"status"`
	All    bool          `signature:"all"`
}

// Normalize trims the item id.
func (f LendingFilter) Normalize() LendingFilter {
	f.ItemID = strings.TrimSpace(f.ItemID)
	return f
}

// CheckoutInput is the payload for checking an item out. With neither
// borrower field set the caller borrows for themselves.
type CheckoutInput struct {
	ItemID         string `json:"bookId"`
	BorrowerUserID string `json:"borrowerUserId,omitempty"`
	BorrowerName   string `json:"borrowerName,omitempty"`
}

// Normalize trims every field.
func (in CheckoutInput) Normalize() CheckoutInput {
	in.ItemID = strings.TrimSpace(in.ItemID)
	in.BorrowerUserID = strings.TrimSpace(in.BorrowerUserID)
	in.BorrowerName = strings.TrimSpace(in.BorrowerName)
	return in
}

// Validate enforces the required item id and the borrower XOR rule.
func (in CheckoutInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ItemID, validation.By(notBlank)),
		validation.Field(&in.BorrowerName,
			validation.When(in.BorrowerUserID != "", validation.Empty.Error("cannot be combined with borrowerUserId")),
			validation.Length(0, 255),
		),
	)
}
