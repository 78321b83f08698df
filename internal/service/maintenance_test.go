package service

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/domain"
)

func TestVerifyFindsDrift(t *testing.T) {
	t.Parallel()
	txs, ctx := setupService(t)
	m := &MaintenanceService{DB: txs.DB, Log: zerolog.Nop()}

	create(t, txs, ctx, spend("a", "ONE", "10"))
	tr := spend("a", "MOVE", "5")
	tr.Type = domain.TypeTransfer
	tr.TransferToAccountID = domain.Str("b")
	create(t, txs, ctx, tr)
	gone := create(t, txs, ctx, spend("b", "GONE", "3"))
	require.NoError(t, txs.Delete(ctx, gone.ID))

	drift, err := m.Verify(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)

	_, err = txs.DB.ExecContext(ctx, `UPDATE accounts SET balance = '99' WHERE id = 'b'`)
	require.NoError(t, err)
	drift, err = m.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	require.Equal(t, "b", drift[0].AccountID)
	require.Equal(t, "5", drift[0].Expected.String())
}

func TestResetClearsData(t *testing.T) {
	t.Parallel()
	txs, ctx := setupService(t)
	m := &MaintenanceService{DB: txs.DB, Log: zerolog.Nop()}
	create(t, txs, ctx, spend("a", "ONE", "10"))

	require.NoError(t, m.Reset(ctx))
	accts, err := txs.Accounts.List(ctx)
	require.NoError(t, err)
	require.Empty(t, accts)
	list, err := txs.Transactions.List(ctx, repository.TransactionFilters{IncludeDeleted: true})
	require.NoError(t, err)
	require.Empty(t, list)

	require.Error(t, (&MaintenanceService{}).Reset(ctx))
}
