package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/database"
	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/prefs"
)

func categoriesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "categories", Short: "Manage categories"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List live categories with their ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := a.txs.Categories.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, c := range cats {
				fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Name)
			}
			return w.Flush()
		},
	}

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a category; the id is derived from the name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("category name required")
			}
			c := repository.Category{ID: database.CategoryID(name), Name: name}
			if err := a.txs.Categories.Upsert(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Soft-delete a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.txs.Categories.SoftDelete(cmd.Context(), args[0])
		},
	}

	export := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write live categories to a JSON backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := backupPath(args)
			if err != nil {
				return err
			}
			cats, err := a.txs.Categories.List(cmd.Context())
			if err != nil {
				return err
			}
			if err := prefs.SaveCategories(path, cats); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d categories to %s\n", len(cats), path)
			return nil
		},
	}

	imp := &cobra.Command{
		Use:   "import [FILE]",
		Short: "Restore categories from a JSON backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := backupPath(args)
			if err != nil {
				return err
			}
			cats, err := prefs.LoadCategories(path)
			if err != nil {
				return err
			}
			for _, c := range cats {
				if err := a.txs.Categories.Upsert(cmd.Context(), c); err != nil {
					return fmt.Errorf("category %s: %w", c.ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d categories\n", len(cats))
			return nil
		},
	}

	cmd.AddCommand(list, add, del, export, imp)
	return cmd
}

func backupPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return prefs.CategoriesPath()
}
