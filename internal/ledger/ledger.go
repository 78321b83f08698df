// Package ledger owns every write to account balances.
//
// A transaction's balance effect is either absent or applied.
// ApplyTransaction and ReverseTransaction move between the two states with a
// guarded update on transactions.balance_applied and post the effect in the
// same storage transaction, so an effect can never be applied twice. Each
// posting is a compare-and-set on (balance, version).
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgerflow/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx. Callers should pass a *sql.Tx
// so both legs of a transfer commit together.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger applies and reverses balance effects.
type Ledger struct {
	log   zerolog.Logger
	locks *lockTable
}

// New returns a ledger that logs to log.
func New(log zerolog.Logger) *Ledger {
	return &Ledger{
		log:   log.With().Str("component", "ledger").Logger(),
		locks: newLockTable(),
	}
}

type accountRow struct {
	balance  decimal.Decimal
	version  int64
	currency string
}

// Apply posts e.
func (l *Ledger) Apply(ctx context.Context, q Querier, e Effect) error {
	return l.post(ctx, q, "apply", e, false)
}

// Reverse posts the exact negation of e.
func (l *Ledger) Reverse(ctx context.Context, q Querier, e Effect) error {
	return l.post(ctx, q, "reverse", e, true)
}

func (l *Ledger) post(ctx context.Context, q Querier, op string, e Effect, negate bool) error {
	if e == nil {
		return &Error{Op: op, Err: errors.New("nil effect")}
	}
	var currencies []string
	for _, p := range e.postings() {
		delta := p.delta
		if negate {
			delta = delta.Neg()
		}
		cur, err := l.postOne(ctx, q, op, p.accountID, delta)
		if err != nil {
			return err
		}
		currencies = append(currencies, cur)
	}
	if t, ok := e.(Transfer); ok && currencies[0] != currencies[1] {
		l.log.Warn().
			Str("from", t.from).Str("to", t.to).
			Str("from_currency", currencies[0]).Str("to_currency", currencies[1]).
			Str("amount", t.amount.String()).
			Msg("cross-currency transfer posted at face value")
	}
	return nil
}

func (l *Ledger) postOne(ctx context.Context, q Querier, op, accountID string, delta decimal.Decimal) (string, error) {
	var row accountRow
	var deleted sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT balance, version, currency, deleted_at FROM accounts WHERE id = ?`, accountID).
		Scan(&row.balance, &row.version, &row.currency, &deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted.Valid) {
		return "", &Error{Op: op, AccountID: accountID, Err: ErrAccountNotFound}
	}
	if err != nil {
		return "", &Error{Op: op, AccountID: accountID, Err: err}
	}

	next := row.balance.Add(delta)
	res, err := q.ExecContext(ctx, `
	UPDATE accounts SET balance = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND version = ? AND deleted_at IS NULL
	`, next.String(), accountID, row.version)
	if err != nil {
		return "", &Error{Op: op, AccountID: accountID, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", &Error{Op: op, AccountID: accountID, Err: err}
	}
	if n == 0 {
		return "", &Error{Op: op, AccountID: accountID, Err: ErrConcurrentWrite}
	}
	l.log.Debug().
		Str("op", op).Str("account_id", accountID).
		Str("delta", delta.String()).Str("balance", next.String()).
		Msg("posted")
	return row.currency, nil
}

// ApplyTransaction moves tx from absent to applied and posts its effect.
func (l *Ledger) ApplyTransaction(ctx context.Context, q Querier, tx domain.Transaction) error {
	e, err := EffectOf(tx)
	if err != nil {
		return &Error{Op: "apply", TxID: tx.ID, Err: err}
	}
	res, err := q.ExecContext(ctx, `
	UPDATE transactions SET balance_applied = 1
	WHERE id = ? AND balance_applied = 0 AND deleted_at IS NULL
	`, tx.ID)
	if err := guarded(res, err, ErrAlreadyApplied); err != nil {
		return &Error{Op: "apply", TxID: tx.ID, Err: err}
	}
	if err := l.Apply(ctx, q, e); err != nil {
		return withTx(err, tx.ID)
	}
	return nil
}

// ReverseTransaction moves tx from applied to absent and posts the negation of
// its effect. Soft-deleted rows can still be reversed.
func (l *Ledger) ReverseTransaction(ctx context.Context, q Querier, tx domain.Transaction) error {
	e, err := EffectOf(tx)
	if err != nil {
		return &Error{Op: "reverse", TxID: tx.ID, Err: err}
	}
	res, err := q.ExecContext(ctx, `
	UPDATE transactions SET balance_applied = 0
	WHERE id = ? AND balance_applied = 1
	`, tx.ID)
	if err := guarded(res, err, ErrNotApplied); err != nil {
		return &Error{Op: "reverse", TxID: tx.ID, Err: err}
	}
	if err := l.Reverse(ctx, q, e); err != nil {
		return withTx(err, tx.ID)
	}
	return nil
}

func guarded(res sql.Result, err error, onZero error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return onZero
	}
	return nil
}

func withTx(err error, txID string) error {
	var le *Error
	if errors.As(err, &le) {
		le.TxID = txID
		return le
	}
	return &Error{Op: "post", TxID: txID, Err: err}
}

// Balance reads the cached balance of an account.
func Balance(ctx context.Context, q Querier, accountID string) (decimal.Decimal, error) {
	var b decimal.Decimal
	err := q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	return b, err
}
