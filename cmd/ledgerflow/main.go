package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jask/ledgerflow/internal/config"
	"github.com/jask/ledgerflow/internal/database"
	"github.com/jask/ledgerflow/internal/dedup"
	"github.com/jask/ledgerflow/internal/logger"
	"github.com/jask/ledgerflow/internal/service"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes one command line and always releases the database.
func run(ctx context.Context, args []string, out io.Writer) error {
	root, a := newRootCmd()
	defer func() { _ = a.close() }()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

// app is the state shared by every subcommand. It is filled in by the root
// command's pre-run hook.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	db     *sql.DB
	txs    *service.TransactionService
	ingest *service.IngestService
	maint  *service.MaintenanceService

	dbPath  string
	verbose bool
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:   "ledgerflow",
		Short: "Rule-driven personal finance ledger",
		Long: `ledgerflow records transactions, runs automation rules over them,
keeps account balances in step and flags probable duplicates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			cmd.SetContext(logger.WithContext(cmd.Context(), a.log))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path (overrides database.path)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		migrateCmd(a),
		configCmd(a),
		accountsCmd(a),
		categoriesCmd(a),
		rulesCmd(a),
		txCmd(a),
		importCmd(a),
		duplicatesCmd(a),
		balancesCmd(a),
		seedCmd(a),
		resetCmd(a),
	)
	return root, a
}

// loadConfig reads the config file and env, then applies root flags.
func (a *app) loadConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	a.log = logger.New(cfg.Log.Level, cfg.Log.Format)
	return nil
}

func (a *app) open(ctx context.Context) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	cfg := a.cfg

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if err := database.RunMigrationsWithDB(db); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("seed defaults: %w", err)
	}
	a.db = db

	a.txs = service.NewTransactionService(db, a.log, service.TransactionOptions{
		NoteDelimiter:    cfg.Rules.NoteDelimiter,
		RecordProvenance: cfg.Rules.RecordProvenance,
		Duplicates: dedup.Options{
			WindowDays:    cfg.Duplicates.WindowDays,
			MinSimilarity: cfg.Duplicates.MinSimilarity,
		},
		BulkConcurrency: cfg.Ledger.BulkConcurrency,
	})
	a.ingest = service.NewIngestService(a.txs)
	a.maint = &service.MaintenanceService{DB: db, Log: a.log}
	a.log.Debug().Str("db", cfg.Database.Path).Msg("database ready")
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, dirty, err := database.SchemaVersion(a.db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}
}
