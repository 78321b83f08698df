package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/service"
)

// txFlags are the transaction fields shared by tx add and rules dry-run.
type txFlags struct {
	account, to, typ, amount, date, clock string
	description, category, notes, source  string
	rawText                               string
}

func (f *txFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.account, "account", "", "source account id")
	fl.StringVar(&f.to, "to", "", "transfer destination account id")
	fl.StringVar(&f.typ, "type", string(domain.TypeExpense), "expense|income|transfer")
	fl.StringVar(&f.amount, "amount", "", "amount as a positive decimal")
	fl.StringVar(&f.date, "date", "", "YYYY-MM-DD (default today)")
	fl.StringVar(&f.clock, "time", "", "HH:MM")
	fl.StringVar(&f.description, "description", "", "description")
	fl.StringVar(&f.category, "category", "", "category id")
	fl.StringVar(&f.notes, "notes", "", "notes")
	fl.StringVar(&f.source, "source", string(domain.SourceManual), "manual|csv_import|ai_parse|api")
	fl.StringVar(&f.rawText, "raw-text", "", "original text the transaction was parsed from")
}

func (f *txFlags) transaction() (domain.Transaction, error) {
	amount, err := parseAmountFlag(f.amount)
	if err != nil {
		return domain.Transaction{}, err
	}
	date := domain.DateOnly(time.Now())
	if f.date != "" {
		if date, err = parseDateFlag(f.date); err != nil {
			return domain.Transaction{}, err
		}
	}
	return domain.Transaction{
		AccountID:           f.account,
		TransferToAccountID: domain.Str(f.to),
		Type:                domain.TxType(strings.ToLower(f.typ)),
		Amount:              amount,
		Date:                date,
		Time:                f.clock,
		Description:         f.description,
		CategoryID:          domain.Str(f.category),
		Notes:               f.notes,
		Source:              domain.Source(f.source),
	}, nil
}

func (f *txFlags) rawTextPtr() *string {
	if strings.TrimSpace(f.rawText) == "" {
		return nil
	}
	return &f.rawText
}

func parseAmountFlag(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, &domain.ValidationError{Field: "amount", Reason: "required"}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &domain.ValidationError{Field: "amount", Reason: err.Error()}
	}
	return d, nil
}

func parseDateFlag(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: "date", Reason: err.Error()}
	}
	return d, nil
}

func txCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "tx", Short: "Create, edit and delete transactions"}
	cmd.AddCommand(txAddCmd(a), txListCmd(a), txEditCmd(a), txDeleteCmd(a), txBulkDeleteCmd(a))
	return cmd
}

func txAddCmd(a *app) *cobra.Command {
	var (
		in         txFlags
		noCheck    bool
		resolution string
		existing   string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a transaction, running rules and updating balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := in.transaction()
			if err != nil {
				return err
			}
			create := service.CreateInput{
				Transaction:     tx,
				RawText:         in.rawTextPtr(),
				CheckDuplicates: !noCheck,
				ExistingID:      existing,
			}
			if resolution != "" {
				if create.Resolution, err = service.ParseResolution(resolution); err != nil {
					return err
				}
			}
			res, err := a.txs.Create(cmd.Context(), create)
			var dup *service.DuplicateDetectedError
			if errors.As(err, &dup) {
				ex := dup.Match.Existing
				return fmt.Errorf("%w: %s %s %s %s (similarity %.2f); rerun with --resolution keep_both or --resolution replace --existing %s",
					service.ErrDuplicateDetected, ex.ID, ex.Date.Format(time.DateOnly), ex.Amount, ex.Description, dup.Match.Similarity, ex.ID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Transaction.ID)
			if res.ReplacedID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "replaced %s\n", res.ReplacedID)
			}
			printApplied(cmd, res.AppliedRules, res.Warnings)
			return nil
		},
	}
	in.register(cmd)
	cmd.Flags().BoolVar(&noCheck, "no-duplicate-check", false, "skip the duplicate detector")
	cmd.Flags().StringVar(&resolution, "resolution", "", "keep_both|replace when a duplicate is expected")
	cmd.Flags().StringVar(&existing, "existing", "", "row to replace with --resolution replace")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func txListCmd(a *app) *cobra.Command {
	var f repository.TransactionFilters
	var month string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if month != "" {
				m, err := time.Parse("2006-01", month)
				if err != nil {
					return &domain.ValidationError{Field: "month", Reason: err.Error()}
				}
				f.Month = m
			}
			list, err := a.txs.Transactions.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tTYPE\tAMOUNT\tACCOUNT\tTO\tCATEGORY\tDESCRIPTION\tSTATE")
			for _, t := range list {
				state := "applied"
				switch {
				case t.IsDeleted() && t.BalanceApplied:
					state = "deleted, reversal pending"
				case t.IsDeleted():
					state = "deleted"
				case !t.BalanceApplied:
					state = "unapplied"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Date.Format(time.DateOnly), t.Type, t.Amount.StringFixed(2), t.AccountID,
					domain.StrValue(t.TransferToAccountID), domain.StrValue(t.CategoryID), t.Description, state)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&f.AccountID, "account", "", "account id (either leg)")
	cmd.Flags().StringVar(&f.CategoryID, "category", "", "category id")
	cmd.Flags().StringVar(&month, "month", "", "YYYY-MM")
	cmd.Flags().StringVar(&f.Search, "search", "", "description substring")
	cmd.Flags().BoolVar(&f.IncludeDeleted, "deleted", false, "include deleted rows")
	return cmd
}

func txEditCmd(a *app) *cobra.Command {
	var (
		in        txFlags
		clearTo   bool
		clearCat  bool
		reconcile bool
		skipRules bool
	)
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Edit a transaction; balances move only when the money movement changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			p := service.TransactionPatch{ClearTransfer: clearTo, ClearCategory: clearCat, SkipRules: skipRules}
			set := func(name string, v *string) *string {
				if fl.Changed(name) {
					return v
				}
				return nil
			}
			p.AccountID = set("account", &in.account)
			p.TransferToAccountID = set("to", &in.to)
			p.Time = set("time", &in.clock)
			p.Description = set("description", &in.description)
			p.CategoryID = set("category", &in.category)
			p.Notes = set("notes", &in.notes)
			p.RawText = set("raw-text", &in.rawText)
			if fl.Changed("type") {
				typ := domain.TxType(strings.ToLower(in.typ))
				p.Type = &typ
			}
			if fl.Changed("amount") {
				amount, err := parseAmountFlag(in.amount)
				if err != nil {
					return err
				}
				p.Amount = &amount
			}
			if fl.Changed("date") {
				d, err := parseDateFlag(in.date)
				if err != nil {
					return err
				}
				p.Date = &d
			}
			if fl.Changed("reconciled") {
				p.Reconciled = &reconcile
			}
			res, err := a.txs.Update(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated (balance changed: %t)\n", res.Transaction.ID, res.BalanceChanged)
			printApplied(cmd, res.AppliedRules, res.Warnings)
			return nil
		},
	}
	in.register(cmd)
	cmd.Flags().BoolVar(&clearTo, "clear-to", false, "remove the transfer destination")
	cmd.Flags().BoolVar(&clearCat, "clear-category", false, "remove the category")
	cmd.Flags().BoolVar(&reconcile, "reconciled", false, "mark reconciled")
	cmd.Flags().BoolVar(&skipRules, "skip-rules", false, "do not re-run automation rules")
	return cmd
}

func txDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a transaction and reverse its balance effect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.txs.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
			return nil
		},
	}
}

func txBulkDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-delete ID...",
		Short: "Delete many transactions; failures are reported per id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.txs.BulkDelete(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range res.Deleted {
				fmt.Fprintf(out, "%s deleted\n", id)
			}
			for id, ferr := range res.Failed {
				fmt.Fprintf(out, "%s failed: %v\n", id, ferr)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d deletions failed; run balances backfill once the cause is fixed", len(res.Failed), len(args))
			}
			return nil
		},
	}
}
