package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/goliatone/go-catalogue-cache/catalogue"
)

func renderItems(w io.Writer, items []catalogue.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no items")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tCOPIES")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", it.ID, it.Title, it.Author, it.AvailableCopies)
	}
	tw.Flush()
}

func renderItem(w io.Writer, it catalogue.Item) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", it.ID)
	fmt.Fprintf(tw, "title:\t%s\n", it.Title)
	fmt.Fprintf(tw, "author:\t%s\n", it.Author)
	if it.PublishedYear > 0 {
		fmt.Fprintf(tw, "published:\t%s\n", strconv.Itoa(it.PublishedYear))
	}
	if it.ISBN != "" {
		fmt.Fprintf(tw, "isbn:\t%s\n", it.ISBN)
	}
	availability := "none on the shelf"
	if it.Available() {
		availability = humanize.Comma(int64(it.AvailableCopies)) + " on the shelf"
	}
	fmt.Fprintf(tw, "copies:\t%s\n", availability)
	if !it.CreatedAt.IsZero() {
		fmt.Fprintf(tw, "added:\t%s\n", when(it.CreatedAt))
	}
	if it.Description != "" {
		fmt.Fprintf(tw, "description:\t%s\n", it.Description)
	}
	tw.Flush()
}

func renderLendings(w io.Writer, recs []catalogue.LendingRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no lending records")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tITEM\tBORROWER\tSTATUS\tBORROWED\tRETURNED")
	for _, rec := range recs {
		returned := "-"
		if rec.ReturnedAt != nil {
			returned = when(*rec.ReturnedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.ItemTitle, rec.Borrower(), rec.Status.Wire(), when(rec.BorrowedAt), returned)
	}
	tw.Flush()
}

func when(t time.Time) string {
	return humanize.Time(t)
}
