package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/config"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the effective configuration",
		// Config commands never touch the database.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.cfg
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "database.path = %s\n", c.Database.Path)
			fmt.Fprintf(out, "log.level = %s\n", c.Log.Level)
			fmt.Fprintf(out, "log.format = %s\n", c.Log.Format)
			fmt.Fprintf(out, "rules.note_delimiter = %q\n", c.Rules.NoteDelimiter)
			fmt.Fprintf(out, "rules.record_provenance = %t\n", c.Rules.RecordProvenance)
			fmt.Fprintf(out, "duplicates.window_days = %d\n", c.Duplicates.WindowDays)
			fmt.Fprintf(out, "duplicates.min_similarity = %g\n", c.Duplicates.MinSimilarity)
			fmt.Fprintf(out, "ledger.bulk_concurrency = %d\n", c.Ledger.BulkConcurrency)
			fmt.Fprintf(out, "import.timezone = %s\n", c.Import.Timezone)
			return nil
		},
	}

	write := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(a.cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config written")
			return nil
		},
	}

	cmd.AddCommand(show, write)
	return cmd
}
