package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-catalogue-cache/authz"
	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/query"
)

func newItemsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "items",
		Aliases: []string{"books"},
		Short:   "List, show, add and remove catalogue items",
	}
	cmd.AddCommand(
		newItemsListCmd(a),
		newItemsShowCmd(a),
		sessionCmd(newItemsCreateCmd(a)),
		sessionCmd(newItemsDeleteCmd(a)),
	)
	return cmd
}

func newItemsListCmd(a *app) *cobra.Command {
	var (
		filter catalogue.ItemFilter
		pages  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := filter.Normalize().Validate(); err != nil {
				return err
			}
			q := a.container.Queries()
			sig := q.Items(filter)

			rs, err := q.Observe(cmd.Context(), sig)
			if err != nil {
				return err
			}
			for loaded := 1; loaded < pages && rs.HasMore(); loaded++ {
				if rs, err = q.LoadMore(cmd.Context(), sig); err != nil {
					if errors.Is(err, query.ErrNoMorePages) {
						break
					}
					return err
				}
			}

			renderItems(a.out, q.ItemsOf(sig))
			if rs.HasMore() {
				fmt.Fprintln(a.out, "more items available, use --pages to load them")
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&filter.Query, "query", "q", "", "free-text search over title and author")
	flags.StringVar(&filter.Author, "author", "", "author facet")
	flags.BoolVar(&filter.AvailableOnly, "available", false, "only items with copies on the shelf")
	flags.StringVar(&filter.Sort, "sort", catalogue.SortNewest, "sort order: createdAt:desc, createdAt:asc or title:asc")
	flags.IntVar(&pages, "pages", 1, "number of pages to load")
	return cmd
}

func newItemsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show ITEM_ID",
		Short: "Show one item and its lending history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := a.container.Queries()
			lendings := q.Lendings(catalogue.LendingFilter{
				ItemID: args[0],
				All:    a.container.Gate().Can(authz.ViewAllLoans),
			})

			var item catalogue.Item
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				var err error
				item, err = q.Item(ctx, args[0])
				return err
			})
			if a.container.Gate().Subject() != "" {
				g.Go(func() error {
					_, err := q.Observe(ctx, lendings)
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			renderItem(a.out, item)
			if recs := q.LendingsOf(lendings); len(recs) > 0 {
				fmt.Fprintln(a.out)
				renderLendings(a.out, recs)
			}
			return nil
		},
	}
}

func newItemsCreateCmd(a *app) *cobra.Command {
	var in catalogue.CreateItemInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add an item to the catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.allowed(authz.ManageBooks); err != nil {
				return err
			}
			item, err := a.container.Mutations().CreateItem(cmd.Context(), in)
			if err != nil {
				return explainWrite(err)
			}
			fmt.Fprintf(a.out, "created %s\n", item.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&in.Title, "title", "", "title (required)")
	flags.StringVar(&in.Author, "author", "", "author (required)")
	flags.StringVar(&in.Description, "description", "", "description")
	flags.StringVar(&in.ISBN, "isbn", "", "ISBN")
	flags.IntVar(&in.PublishedYear, "year", 0, "year of publication")
	flags.IntVar(&in.AvailableCopies, "copies", 1, "copies on the shelf")
	flags.StringVar(&in.CoverImageURL, "cover", "", "cover image URL")
	return cmd
}

func newItemsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ITEM_ID",
		Short: "Remove an item from the catalogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.allowed(authz.ManageBooks); err != nil {
				return err
			}
			if err := a.confirm(fmt.Sprintf("Delete item %s?", args[0])); err != nil {
				return err
			}
			if err := a.container.Mutations().DeleteItem(cmd.Context(), args[0]); err != nil {
				return explainWrite(err)
			}
			fmt.Fprintf(a.out, "deleted %s\n", args[0])
			return nil
		},
	}
}
