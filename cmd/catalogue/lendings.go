package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-catalogue-cache/authz"
	"github.com/goliatone/go-catalogue-cache/catalogue"
	"github.com/goliatone/go-catalogue-cache/mutation"
)

func newLendingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lendings",
		Aliases: []string{"loans"},
		Short:   "Inspect lending records",
	}
	cmd.AddCommand(sessionCmd(newLendingsListCmd(a)))
	return cmd
}

func newLendingsListCmd(a *app) *cobra.Command {
	var (
		filter catalogue.LendingFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your lending records, or everyone's with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filter.All {
				if err := a.allowed(authz.ViewAllLoans); err != nil {
					return err
				}
			}
			if status != "" {
				if err := filter.Status.UnmarshalText([]byte(status)); err != nil {
					return err
				}
			}

			q := a.container.Queries()
			sig := q.Lendings(filter)
			rs, err := q.Observe(cmd.Context(), sig)
			if err != nil {
				return err
			}
			renderLendings(a.out, q.LendingsOf(sig))
			if rs.HasMore() {
				fmt.Fprintln(a.out, "more lending records available")
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&filter.ItemID, "item", "", "only records of this item")
	flags.StringVar(&status, "status", "", "borrowed or returned")
	flags.BoolVar(&filter.All, "all", false, "records of every borrower")
	return cmd
}

func newCheckoutCmd(a *app) *cobra.Command {
	var in catalogue.CheckoutInput
	cmd := &cobra.Command{
		Use:   "checkout ITEM_ID",
		Short: "Borrow an item, or lend it on behalf of someone with --user or --name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ItemID = args[0]
			if in.BorrowerUserID != "" || in.BorrowerName != "" {
				if err := a.allowed(authz.ManageLoans); err != nil {
					return err
				}
			}
			if subject := a.container.Gate().Subject(); subject != "" && in.BorrowerName == "" {
				borrower := in.BorrowerUserID
				if borrower == "" {
					borrower = subject
				}
				if rec, ok := a.container.Queries().ActiveLending(in.ItemID, borrower); ok {
					fmt.Fprintf(a.errOut, "note: lending %s for this item looks still open\n", rec.ID)
				}
			}

			rec, err := a.container.Mutations().Checkout(cmd.Context(), in)
			if err != nil {
				return explainWrite(err)
			}
			fmt.Fprintf(a.out, "lent %s as %s\n", rec.ItemTitle, rec.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&in.BorrowerUserID, "user", "", "registered borrower id")
	flags.StringVar(&in.BorrowerName, "name", "", "walk-in borrower name")
	cmd.MarkFlagsMutuallyExclusive("user", "name")
	return sessionCmd(cmd)
}

func newReturnCmd(a *app) *cobra.Command {
	return sessionCmd(&cobra.Command{
		Use:   "return LENDING_ID",
		Short: "Return a borrowed item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.container.Mutations().Return(cmd.Context(), args[0])
			if err != nil {
				return explainWrite(err)
			}
			fmt.Fprintf(a.out, "returned %s (%s)\n", rec.ItemTitle, rec.ID)
			return nil
		},
	})
}

func newWhoamiCmd(a *app) *cobra.Command {
	return sessionCmd(&cobra.Command{
		Use:   "whoami",
		Short: "Show the session user and its permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			perms, err := a.container.SyncPermissions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "user:        %s\n", a.container.Gate().Subject())
			fmt.Fprintf(a.out, "permissions: %s\n", perms)
			return nil
		},
	})
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the catalogue server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.container.Client().Health(cmd.Context())
			if err != nil {
				return err
			}
			if !h.OK() {
				return fmt.Errorf("server reports status %q", h.Status)
			}
			fmt.Fprintln(a.out, "ok")
			return nil
		},
	}
}

func explainWrite(err error) error {
	var invalid *mutation.ValidationError
	switch {
	case errors.Is(err, mutation.ErrInProgress):
		return errors.New("another write for this record is still running")
	case errors.As(err, &invalid):
		return fmt.Errorf("invalid %s: %w", invalid.Op, invalid.Err)
	default:
		return err
	}
}
