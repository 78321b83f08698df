package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgerflow/internal/database"
	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/ledger"
)

// MaintenanceService houses destructive and repair actions surfaced through
// the CLI.
type MaintenanceService struct {
	DB  *sql.DB
	Log zerolog.Logger
}

// Reset wipes all user data. It keeps the schema intact so the app can continue running.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"pending_duplicates",
			"automation_rules",
			"transactions",
			"categories",
			"accounts",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	s.Log.Warn().Msg("all data reset")
	return nil
}

// Drift is an account whose cached balance disagrees with its applied
// transactions.
type Drift struct {
	AccountID string
	Name      string
	Cached    decimal.Decimal
	Expected  decimal.Decimal
}

// Verify recomputes every live account's balance from the rows whose effect
// is applied and reports the accounts that disagree. It writes nothing.
func (s *MaintenanceService) Verify(ctx context.Context) ([]Drift, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("maintenance: db not configured")
	}
	applied, err := repository.NewTransactionRepo(s.DB).Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("load applied transactions: %w", err)
	}
	expected := make(map[string]decimal.Decimal)
	for _, t := range applied {
		e, err := ledger.EffectOf(t)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		ledger.Deltas(e, expected)
	}

	accounts, err := repository.NewAccountRepo(s.DB).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	var out []Drift
	for _, a := range accounts {
		want := expected[a.ID]
		if a.Balance.Equal(want) {
			continue
		}
		out = append(out, Drift{AccountID: a.ID, Name: a.Name, Cached: a.Balance, Expected: want})
		s.Log.Warn().Str("account_id", a.ID).Str("cached", a.Balance.String()).Str("expected", want.String()).Msg("balance drift")
	}
	return out, nil
}
