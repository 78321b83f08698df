package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/rules"
)

func rulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Manage automation rules"}

	var (
		name, logic, conds, acts string
		priority                 int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an automation rule",
		Example: `  ledgerflow rules add --name "Food delivery" --priority 10 \
    --conditions '{"description_contains":["UBER EATS","MENULOG"]}' \
    --actions '{"set_category":"<category id>","add_note":"delivery"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def := rules.Definition{Name: name, Priority: priority, IsActive: true, Logic: rules.Logic(logic)}
			if err := json.Unmarshal([]byte(conds), &def.Conditions); err != nil {
				return fmt.Errorf("conditions: %w", err)
			}
			if err := json.Unmarshal([]byte(acts), &def.Actions); err != nil {
				return fmt.Errorf("actions: %w", err)
			}
			saved, err := a.txs.AddRule(cmd.Context(), def)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "rule name")
	add.Flags().IntVar(&priority, "priority", 0, "higher runs first")
	add.Flags().StringVar(&logic, "logic", string(rules.LogicAnd), "and|or")
	add.Flags().StringVar(&conds, "conditions", "{}", "conditions JSON")
	add.Flags().StringVar(&acts, "actions", "{}", "actions JSON")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List active rules in evaluation order, then inactive ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := a.txs.Rules.List(cmd.Context())
			if err != nil {
				return err
			}
			compiled := make([]rules.Rule, 0, len(defs))
			for _, d := range defs {
				compiled = append(compiled, rules.Compile(d))
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRIORITY\tACTIVE\tLOGIC\tNAME")
			for _, r := range rules.Order(compiled) {
				fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%s\n", r.ID, r.Priority, r.IsActive, r.Logic, r.Name)
			}
			for _, r := range compiled {
				if !r.IsActive {
					fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%s\n", r.ID, r.Priority, r.IsActive, r.Logic, r.Name)
				}
			}
			return w.Flush()
		},
	}

	var in txFlags
	dry := &cobra.Command{
		Use:   "dry-run",
		Short: "Show what the active rules would do to a transaction without saving it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cand, err := in.transaction()
			if err != nil {
				return err
			}
			res, err := a.txs.ApplyAutomationRules(cmd.Context(), cand, in.rawTextPtr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tx := res.Transaction
			fmt.Fprintf(out, "account:  %s\n", tx.AccountID)
			fmt.Fprintf(out, "type:     %s\n", tx.Type)
			if tx.TransferToAccountID != nil {
				fmt.Fprintf(out, "to:       %s\n", *tx.TransferToAccountID)
			}
			fmt.Fprintf(out, "category: %s\n", domain.StrValue(tx.CategoryID))
			fmt.Fprintf(out, "notes:    %s\n", tx.Notes)
			fmt.Fprintf(out, "reconciled: %t\n", tx.Reconciled)
			if !res.Changed() {
				fmt.Fprintln(out, "no rules fired")
			}
			printApplied(cmd, res.AppliedRules, res.Issues)
			return nil
		},
	}
	in.register(dry)

	toggle := func(use string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ID",
			Short: use + " a rule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := ruleExists(cmd, a, args[0]); err != nil {
					return err
				}
				if err := a.txs.Rules.SetActive(cmd.Context(), args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rule %s %sd\n", args[0], use)
				return nil
			},
		}
	}
	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ruleExists(cmd, a, args[0]); err != nil {
				return err
			}
			return a.txs.Rules.Delete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(add, list, dry, toggle("enable", true), toggle("disable", false), del)
	return cmd
}

func ruleExists(cmd *cobra.Command, a *app, id string) error {
	def, err := a.txs.Rules.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if def == nil {
		return fmt.Errorf("rule %s not found", id)
	}
	return nil
}

func printApplied(cmd *cobra.Command, applied []domain.AppliedRule, issues []rules.Issue) {
	out := cmd.OutOrStdout()
	for _, ar := range applied {
		fmt.Fprintf(out, "rule %q fired\n", ar.RuleName)
		for _, act := range ar.Actions {
			fmt.Fprintf(out, "  %s: %s %s\n", act.Kind, act.Outcome, act.Detail)
		}
	}
	for _, is := range issues {
		fmt.Fprintf(out, "warning: %s %s: %s\n", is.Kind, is.Field, is.Message)
	}
}
