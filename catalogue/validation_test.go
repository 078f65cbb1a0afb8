package catalogue

import (
	"errors"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldErrors(t *testing.T, err error) validation.Errors {
	t.Helper()
	var errs validation.Errors
	require.True(t, errors.As(err, &errs), "expected validation.Errors, got %v", err)
	return errs
}

func TestCreateItemInput_Validate(t *testing.T) {
	tests := []struct {
		name   string
		input  CreateItemInput
		fields []string
	}{
		{name: "minimal", input: CreateItemInput{Title: "Dune", Author: "Herbert"}},
		{name: "blank title", input: CreateItemInput{Title: "   ", Author: "Herbert"}, fields: []string{"title"}},
		{name: "missing author", input: CreateItemInput{Title: "Dune"}, fields: []string{"author"}},
		{name: "negative copies", input: CreateItemInput{Title: "Dune", Author: "Herbert", AvailableCopies: -1}, fields: []string{"availableCopies"}},
		{name: "bad cover url", input: CreateItemInput{Title: "Dune", Author: "Herbert", CoverImageURL: "not a url"}, fields: []string{"coverImageUrl"}},
		{
			name:  "full",
			input: CreateItemInput{Title: "Dune", Author: "Herbert", PublishedYear: 1965, AvailableCopies: 3, CoverImageURL: "https://example.com/dune.jpg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			errs := fieldErrors(t, err)
			for _, f := range tt.fields {
				assert.Contains(t, errs, f)
			}
		})
	}
}

func TestCreateItemInput_Normalize(t *testing.T) {
	in := CreateItemInput{Title: "  Dune ", Author: "\tHerbert", ISBN: " 978 "}.Normalize()
	assert.Equal(t, "Dune", in.Title)
	assert.Equal(t, "Herbert", in.Author)
	assert.Equal(t, "978", in.ISBN)
}

func TestCheckoutInput_Validate(t *testing.T) {
	assert.NoError(t, CheckoutInput{ItemID: "b1"}.Validate(), "self-service checkout")
	assert.NoError(t, CheckoutInput{ItemID: "b1", BorrowerUserID: "u1"}.Validate())
	assert.NoError(t, CheckoutInput{ItemID: "b1", BorrowerName: "Walk-in"}.Validate())

	errs := fieldErrors(t, CheckoutInput{ItemID: "b1", BorrowerUserID: "u1", BorrowerName: "Walk-in"}.Validate())
	assert.Contains(t, errs, "borrowerName")

	errs = fieldErrors(t, CheckoutInput{ItemID: " "}.Validate())
	assert.Contains(t, errs, "bookId")
}

func TestItemFilter_NormalizeAndValidate(t *testing.T) {
	f := ItemFilter{Query: "  dune  "}.Normalize()
	assert.Equal(t, "dune", f.Query)
	assert.Equal(t, SortNewest, f.Sort)
	assert.NoError(t, f.Validate())

	errs := fieldErrors(t, ItemFilter{Sort: "rating:desc"}.Validate())
	assert.Contains(t, errs, "Sort")
}

func TestLendingStatus_Text(t *testing.T) {
	var s LendingStatus
	require.NoError(t, s.UnmarshalText([]byte("borrowed")))
	assert.Equal(t, StatusActive, s)
	require.NoError(t, s.UnmarshalText([]byte("active")))
	assert.Equal(t, StatusActive, s)
	require.NoError(t, s.UnmarshalText([]byte("returned")))
	assert.Equal(t, StatusReturned, s)
	assert.Error(t, s.UnmarshalText([]byte("lost")))

	assert.Equal(t, "borrowed", StatusActive.Wire())
	assert.Equal(t, "returned", StatusReturned.Wire())
}

func TestLendingRecord_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		rec  LendingRecord
		want []error
	}{
		{name: "active user borrower", rec: LendingRecord{BorrowerUserID: "u1", Status: StatusActive}},
		{name: "returned name borrower", rec: LendingRecord{BorrowerName: "Walk-in", Status: StatusReturned, ReturnedAt: &now}},
		{name: "both borrowers", rec: LendingRecord{BorrowerUserID: "u1", BorrowerName: "x", Status: StatusActive}, want: []error{ErrBorrowerConflict}},
		{name: "no borrower", rec: LendingRecord{Status: StatusActive}, want: []error{ErrBorrowerMissing}},
		{name: "active with returnedAt", rec: LendingRecord{BorrowerUserID: "u1", Status: StatusActive, ReturnedAt: &now}, want: []error{ErrReturnedAt}},
		{name: "returned without returnedAt", rec: LendingRecord{BorrowerName: "", Status: StatusReturned}, want: []error{ErrBorrowerMissing, ErrReturnedAt}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if len(tt.want) == 0 {
				assert.NoError(t, err)
				return
			}
			for _, w := range tt.want {
				assert.ErrorIs(t, err, w)
			}
		})
	}
}
