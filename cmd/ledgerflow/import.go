package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/service"
)

func importCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "import", Short: "Import transactions from files"}

	csvCmd := &cobra.Command{
		Use:   "csv FILE",
		Short: "Import date,time,description,amount,external_id,account rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := a.ingest.ImportCSV(cmd.Context(), f, a.cfg.Import.Location())
			if err != nil {
				return err
			}
			return printIngest(cmd, res)
		},
	}

	var anzAccount string
	anzCmd := &cobra.Command{
		Use:   "anz FILE",
		Short: "Import an ANZ export (date,amount,description; no header)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := a.ingest.ImportANZSimple(cmd.Context(), f, anzAccount, a.cfg.Import.Location())
			if err != nil {
				return err
			}
			return printIngest(cmd, res)
		},
	}
	anzCmd.Flags().StringVar(&anzAccount, "account", "ANZ", "account name")

	var parsedAccount string
	parsedCmd := &cobra.Command{
		Use:   "parsed FILE",
		Short: "Import parser output: a JSON array of {date,time,description,amount,account,raw_text}",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var raw []parsedItem
			if err := json.Unmarshal(b, &raw); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			items := make([]service.Parsed, 0, len(raw))
			for i, r := range raw {
				var d time.Time
				if r.Date != "" {
					if d, err = time.Parse(time.DateOnly, r.Date); err != nil {
						return fmt.Errorf("item %d date: %w", i+1, err)
					}
				}
				items = append(items, service.Parsed{
					Date:        d,
					Time:        r.Time,
					Description: r.Description,
					Amount:      r.Amount,
					Account:     r.Account,
					RawText:     r.RawText,
				})
			}
			res, err := a.ingest.ImportParsed(cmd.Context(), items, parsedAccount)
			if err != nil {
				return err
			}
			return printIngest(cmd, res)
		},
	}
	parsedCmd.Flags().StringVar(&parsedAccount, "account", "", "account name for items without one")

	cmd.AddCommand(csvCmd, anzCmd, parsedCmd)
	return cmd
}

type parsedItem struct {
	Date        string          `json:"date"`
	Time        string          `json:"time"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Account     string          `json:"account"`
	RawText     string          `json:"raw_text"`
}

func printIngest(cmd *cobra.Command, res service.IngestResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "imported %d, skipped %d, queued as duplicates %d\n", res.Imported, res.Skipped, res.Pending)
	for _, err := range res.Errors {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	if res.Pending > 0 {
		fmt.Fprintln(out, "review with: ledgerflow duplicates list")
	}
	return nil
}
