package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/database/repository"
)

func accountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "accounts", Short: "Manage accounts"}

	var institution, currency, id string
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Create an account with a zero balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			acct := repository.Account{
				ID:          id,
				Name:        strings.TrimSpace(args[0]),
				Institution: institution,
				Currency:    currency,
				IsActive:    true,
			}
			if err := a.txs.Accounts.Upsert(cmd.Context(), acct); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	add.Flags().StringVar(&institution, "institution", "", "bank or provider")
	add.Flags().StringVar(&currency, "currency", "AUD", "ISO currency code")
	add.Flags().StringVar(&id, "id", "", "explicit account id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List live accounts and their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printAccounts(cmd, a)
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func printAccounts(cmd *cobra.Command, a *app) error {
	accts, err := a.txs.Accounts.List(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCURRENCY\tBALANCE\tVERSION")
	for _, acct := range accts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", acct.ID, acct.Name, acct.Currency, acct.Balance.StringFixed(2), acct.Version)
	}
	return w.Flush()
}
