package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/service"
)

func duplicatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "duplicates", Short: "Review imported rows that look like duplicates"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List unresolved duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pending, err := a.txs.Duplicates.ListPending(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSIMILARITY\tIMPORTED\tEXISTING")
			for _, pd := range pending {
				fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n", pd.ID, pd.Similarity,
					describe(cmd, a, pd.TransactionID), describe(cmd, a, pd.ExistingID))
			}
			return w.Flush()
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve ID keep_both|replace",
		Short: "Keep both rows, or delete the existing row in favour of the imported one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := service.ParseResolution(args[1])
			if err != nil {
				return err
			}
			if err := a.txs.ResolvePendingDuplicate(cmd.Context(), args[0], choice); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s resolved\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, resolve)
	return cmd
}

func describe(cmd *cobra.Command, a *app, id string) string {
	t, err := a.txs.Transactions.Get(cmd.Context(), id)
	if err != nil || t == nil {
		return id + " (missing)"
	}
	s := fmt.Sprintf("%s %s %s", t.Date.Format("2006-01-02"), t.Amount.StringFixed(2), t.Description)
	if t.IsDeleted() {
		s += " (deleted)"
	}
	return s
}
