package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/ledgerflow/internal/database"
	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/domain"
)

func setup(t *testing.T, accounts ...string) (*sql.DB, *Ledger, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, database.RunMigrations(dbPath))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.NewAccountRepo(db)
	for _, id := range accounts {
		require.NoError(t, repo.Upsert(ctx, repository.Account{ID: id, Name: id, IsActive: true}))
	}
	return db, New(zerolog.Nop()), ctx
}

func bal(t *testing.T, db *sql.DB, id string) decimal.Decimal {
	t.Helper()
	b, err := Balance(context.Background(), db, id)
	require.NoError(t, err)
	return b
}

func requireBal(t *testing.T, db *sql.DB, id, want string) {
	t.Helper()
	got := bal(t, db, id)
	require.True(t, got.Equal(decimal.RequireFromString(want)), "balance of %s: got %s want %s", id, got, want)
}

func TestEffectOf(t *testing.T) {
	t.Parallel()

	amt := decimal.NewFromInt(10)
	tests := []struct {
		name    string
		tx      domain.Transaction
		want    Effect
		wantErr bool
	}{
		{"expense", domain.Transaction{AccountID: "a", Type: domain.TypeExpense, Amount: amt}, Expense{Account: "a", Amount: amt}, false},
		{"income", domain.Transaction{AccountID: "a", Type: domain.TypeIncome, Amount: amt}, Income{Account: "a", Amount: amt}, false},
		{"transfer", domain.Transaction{AccountID: "a", TransferToAccountID: domain.Str("b"), Type: domain.TypeTransfer, Amount: amt}, Transfer{from: "a", to: "b", amount: amt}, false},
		{"transfer no dest", domain.Transaction{AccountID: "a", Type: domain.TypeTransfer, Amount: amt}, nil, true},
		{"transfer to self", domain.Transaction{AccountID: "a", TransferToAccountID: domain.Str("a"), Type: domain.TypeTransfer, Amount: amt}, nil, true},
		{"negative", domain.Transaction{AccountID: "a", Type: domain.TypeExpense, Amount: amt.Neg()}, nil, true},
		{"unknown type", domain.Transaction{AccountID: "a", Type: "refund", Amount: amt}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EffectOf(tc.tx)
			if tc.wantErr {
				var verr *domain.ValidationError
				require.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestApplyReverseRoundTrip(t *testing.T) {
	t.Parallel()
	db, l, ctx := setup(t, "a", "b")

	effects := []Effect{
		Expense{Account: "a", Amount: decimal.RequireFromString("12.34")},
		Income{Account: "a", Amount: decimal.RequireFromString("0.01")},
		mustTransfer(t, "a", "b", decimal.RequireFromString("999.99")),
	}
	for _, e := range effects {
		beforeA, beforeB := bal(t, db, "a"), bal(t, db, "b")
		require.NoError(t, l.Apply(ctx, db, e))
		require.NoError(t, l.Reverse(ctx, db, e))
		require.True(t, beforeA.Equal(bal(t, db, "a")))
		require.True(t, beforeB.Equal(bal(t, db, "b")))
	}
}

func TestTransferSymmetry(t *testing.T) {
	t.Parallel()
	db, l, ctx := setup(t, "a", "b")

	tr := mustTransfer(t, "a", "b", decimal.NewFromInt(10000))
	require.NoError(t, l.Apply(ctx, db, tr))
	requireBal(t, db, "a", "-10000")
	requireBal(t, db, "b", "10000")

	require.NoError(t, l.Reverse(ctx, db, tr))
	requireBal(t, db, "a", "0")
	requireBal(t, db, "b", "0")
}

func TestTransferIsAtomicInsideTx(t *testing.T) {
	t.Parallel()
	db, l, ctx := setup(t, "a", "gone")
	require.NoError(t, repository.NewAccountRepo(db).SoftDelete(ctx, "gone"))

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		return l.Apply(ctx, tx, mustTransfer(t, "a", "gone", decimal.NewFromInt(5)))
	})
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.True(t, IsRetryable(err))
	requireBal(t, db, "a", "0")
}

func TestMissingAccount(t *testing.T) {
	t.Parallel()
	db, l, ctx := setup(t)

	err := l.Apply(ctx, db, Expense{Account: "nope", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrAccountNotFound)
	var le *Error
	require.ErrorAs(t, err, &le)
	require.Equal(t, "nope", le.AccountID)
	require.True(t, le.Retryable())
}

func TestTransactionStateMachine(t *testing.T) {
	t.Parallel()
	db, l, ctx := setup(t, "a")
	txs := repository.NewTransactionRepo(db)

	tx := domain.Transaction{
		ID: "t1", AccountID: "a", Type: domain.TypeExpense, Amount: decimal.NewFromInt(50000),
		Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Source: domain.SourceManual,
	}
	require.NoError(t, txs.Insert(ctx, tx))

	require.ErrorIs(t, l.ReverseTransaction(ctx, db, tx), ErrNotApplied)
	requireBal(t, db, "a", "0")

	require.NoError(t, l.ApplyTransaction(ctx, db, tx))
	requireBal(t, db, "a", "-50000")

	require.ErrorIs(t, l.ApplyTransaction(ctx, db, tx), ErrAlreadyApplied)
	requireBal(t, db, "a", "-50000")

	got, err := txs.GetLive(ctx, "t1")
	require.NoError(t, err)
	require.True(t, got.BalanceApplied)

	require.NoError(t, txs.SoftDelete(ctx, "t1"))
	require.NoError(t, l.ReverseTransaction(ctx, db, tx))
	requireBal(t, db, "a", "0")
	require.ErrorIs(t, l.ReverseTransaction(ctx, db, tx), ErrNotApplied)
	require.ErrorIs(t, l.ApplyTransaction(ctx, db, tx), ErrAlreadyApplied, "deleted rows cannot be applied")
}

func TestFailedPostingRollsBackFlag(t *testing.T) {
	t.Parallel()
	db, l, ctx := setup(t, "a")
	txs := repository.NewTransactionRepo(db)
	tx := domain.Transaction{
		ID: "t1", AccountID: "a", Type: domain.TypeExpense, Amount: decimal.NewFromInt(1),
		Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Source: domain.SourceManual,
	}
	require.NoError(t, txs.Insert(ctx, tx))
	require.NoError(t, repository.NewAccountRepo(db).SoftDelete(ctx, "a"))

	err := database.WithTx(ctx, db, func(q *sql.Tx) error {
		return l.ApplyTransaction(ctx, q, tx)
	})
	require.ErrorIs(t, err, ErrAccountNotFound)
	var le *Error
	require.ErrorAs(t, err, &le)
	require.Equal(t, "t1", le.TxID)

	got, err := txs.GetLive(ctx, "t1")
	require.NoError(t, err)
	require.False(t, got.BalanceApplied)
}

func TestCompareAndSetDetectsStaleVersion(t *testing.T) {
	t.Parallel()
	db, l, ctx := setup(t, "a")

	// Another writer bumps the version between the read and the update.
	q := &bumpingQuerier{DB: db, bump: func() {
		_, err := db.ExecContext(ctx, `UPDATE accounts SET version = version + 1 WHERE id = 'a'`)
		require.NoError(t, err)
	}}
	err := l.Apply(ctx, q, Expense{Account: "a", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrConcurrentWrite)
	requireBal(t, db, "a", "0")
}

// bumpingQuerier runs bump between the read and the write of a posting.
type bumpingQuerier struct {
	*sql.DB
	bump func()
	once sync.Once
}

func (q *bumpingQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q.once.Do(q.bump)
	return q.DB.ExecContext(ctx, query, args...)
}

func TestSerializeOrdersLocks(t *testing.T) {
	t.Parallel()
	db, l, ctx := setup(t, "a", "b")

	forward := mustTransfer(t, "a", "b", decimal.NewFromInt(1))
	back := mustTransfer(t, "b", "a", decimal.NewFromInt(1))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids, e := []string{"a", "b"}, forward
			if i%2 == 1 {
				ids, e = []string{"b", "a", "b"}, back
			}
			err := l.Serialize(ctx, ids, func() error {
				return database.WithTx(ctx, db, func(tx *sql.Tx) error {
					return l.Apply(ctx, tx, e)
				})
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	requireBal(t, db, "a", "0")
	requireBal(t, db, "b", "0")
}

func TestUniqueSorted(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"a", "b", "c"}, uniqueSorted([]string{"c", "", "a", "b", "a"}))
	require.Equal(t, []string{"a", "b"}, AccountsOf(
		domain.Transaction{AccountID: "a", TransferToAccountID: domain.Str("b")},
		domain.Transaction{AccountID: "b"},
	))
}

func mustTransfer(t *testing.T, from, to string, amount decimal.Decimal) Transfer {
	t.Helper()
	tr, err := NewTransfer(from, to, amount)
	require.NoError(t, err)
	return tr
}

func TestDeltas(t *testing.T) {
	t.Parallel()
	sum := map[string]decimal.Decimal{}
	Deltas(Expense{Account: "a", Amount: decimal.RequireFromString("10")}, sum)
	Deltas(Income{Account: "b", Amount: decimal.RequireFromString("4")}, sum)
	Deltas(mustTransfer(t, "a", "b", decimal.RequireFromString("2.5")), sum)
	require.Equal(t, "-12.5", sum["a"].String())
	require.Equal(t, "6.5", sum["b"].String())
}
