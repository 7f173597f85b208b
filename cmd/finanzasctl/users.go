package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"finanzas/internal/backend"
	"finanzas/internal/cli"
	"finanzas/internal/core"
	"finanzas/internal/services"
)

// openLedger opens the configured backend. Close the result when done.
func (a *app) openLedger(ctx context.Context) (*services.LedgerService, *backend.BackendResult, error) {
	store, err := cli.OpenBackend(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return services.NewLedgerService(store.Repository, services.WithLogger(a.logger)), store, nil
}

func usersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users",
	}

	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Register a user with a default profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")

			ledger, store, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := ledger.CreateUser(cmd.Context(), core.User{
				Username:  args[0],
				Email:     email,
				FirstName: first,
				LastName:  last,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s user %s with id %d\n",
				successStyle.Render("created"), u.Username, u.ID)
			return nil
		},
	}
	create.Flags().String("email", "", "email address (required)")
	create.Flags().String("first-name", "", "first name")
	create.Flags().String("last-name", "", "last name")
	_ = create.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, store, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := ledger.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No users found. Use 'finanzasctl users create' to add one."))
				return nil
			}
			t := newTable(out, "ID", "Username", "Name", "Email", "Joined")
			for _, u := range users {
				t.row(u.ID, u.Username, u.DisplayName(), u.Email, u.JoinedAt.Format("2006-01-02"))
			}
			return t.flush()
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
