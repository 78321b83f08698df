package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/testdata"
)

func balancesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "balances", Short: "Inspect and repair account balances"}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show cached account balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printAccounts(cmd, a)
		},
	}

	backfill := &cobra.Command{
		Use:   "backfill",
		Short: "Apply unapplied rows and finish reversals of deleted ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.txs.BackfillBalances(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "applied %d, reversed %d\n", res.Applied, res.Reversed)
			for id, ferr := range res.Failed {
				fmt.Fprintf(out, "%s failed: %v\n", id, ferr)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d rows could not be repaired", len(res.Failed))
			}
			return nil
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Recompute balances from applied rows and report drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drift, err := a.maint.Verify(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range drift {
				fmt.Fprintf(out, "%s (%s): cached %s, expected %s\n", d.Name, d.AccountID, d.Cached, d.Expected)
			}
			if len(drift) > 0 {
				return fmt.Errorf("%d accounts drifted", len(drift))
			}
			fmt.Fprintln(out, "balances ok")
			return nil
		},
	}

	cmd.AddCommand(list, backfill, verify)
	return cmd
}

func seedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create sample accounts, rules and transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := testdata.Seed(cmd.Context(), a.txs); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sample data created")
			return nil
		},
	}
}

func resetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all data, keeping the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes every account, rule and transaction; pass --yes to confirm")
			}
			if err := a.maint.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reset complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}
