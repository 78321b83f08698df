package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jask/ledgerflow/internal/domain"
)

// ErrTransactionNotFound is returned when a live transaction is required but
// missing.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionFilters defines list filters.
type TransactionFilters struct {
	AccountID      string
	CategoryID     string
	Month          time.Time // use first day of month; zero time = no month filter
	Search         string
	IncludeDeleted bool
}

// TransactionRepo handles transactions. balance_applied is owned by the
// ledger; this repo only reads it.
type TransactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) *TransactionRepo { return &TransactionRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *TransactionRepo) WithTx(tx DBTX) *TransactionRepo { return &TransactionRepo{db: tx} }

const txColumns = `id, account_id, transfer_to_account_id, type, amount, date, time, description,
 category_id, notes, source, reconciled, source_hash, applied_rules, balance_applied,
 deleted_at, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t domain.Transaction) error {
	rules, err := encodeApplied(t.AppliedRules)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, account_id, transfer_to_account_id, type, amount, date, time, description,
	 category_id, notes, source, reconciled, source_hash, applied_rules, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.AccountID, t.TransferToAccountID, string(t.Type), t.Amount.String(), t.Date.Format(time.DateOnly),
		t.Time, t.Description, t.CategoryID, t.Notes, string(t.Source), t.Reconciled, t.SourceHash, rules)
	return err
}

// Update overwrites the mutable fields of a live row.
func (r *TransactionRepo) Update(ctx context.Context, t domain.Transaction) error {
	rules, err := encodeApplied(t.AppliedRules)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
	UPDATE transactions SET
	 account_id=?, transfer_to_account_id=?, type=?, amount=?, date=?, time=?, description=?,
	 category_id=?, notes=?, source=?, reconciled=?, applied_rules=?, updated_at=CURRENT_TIMESTAMP
	WHERE id = ? AND deleted_at IS NULL
	`,
		t.AccountID, t.TransferToAccountID, string(t.Type), t.Amount.String(), t.Date.Format(time.DateOnly),
		t.Time, t.Description, t.CategoryID, t.Notes, string(t.Source), t.Reconciled, rules, t.ID)
	return affected(res, err, t.ID)
}

// SoftDelete marks a live row deleted.
func (r *TransactionRepo) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`, id)
	return affected(res, err, id)
}

// SoftDeleteMany marks every listed live row deleted in one statement and
// returns how many rows changed.
func (r *TransactionRepo) SoftDeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := r.db.ExecContext(ctx, `
	UPDATE transactions SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
	WHERE deleted_at IS NULL AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Get returns a row by id, deleted or not. Missing rows return nil, nil.
func (r *TransactionRepo) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetLive is Get restricted to rows that are not soft-deleted.
func (r *TransactionRepo) GetLive(ctx context.Context, id string) (domain.Transaction, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if t == nil || t.IsDeleted() {
		return domain.Transaction{}, fmt.Errorf("%s: %w", id, ErrTransactionNotFound)
	}
	return *t, nil
}

// LiveByIDs returns the listed rows that are not soft-deleted, in id order.
func (r *TransactionRepo) LiveByIDs(ctx context.Context, ids []string) ([]domain.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.query(ctx, `SELECT `+txColumns+` FROM transactions
	WHERE deleted_at IS NULL AND id IN (`+placeholders(len(ids))+`) ORDER BY id`, args...)
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]domain.Transaction, error) {
	var where []string
	var args []any

	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if f.AccountID != "" {
		where = append(where, "(account_id = ? OR transfer_to_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if !f.Month.IsZero() {
		start := time.Date(f.Month.Year(), f.Month.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		where = append(where, "date >= ? AND date < ?")
		args = append(args, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	if f.Search != "" {
		where = append(where, "description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	query := "SELECT " + txColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC, id"
	return r.query(ctx, query, args...)
}

// Window returns live rows on accountID dated within [from, to], newest
// first.
func (r *TransactionRepo) Window(ctx context.Context, accountID string, from, to time.Time) ([]domain.Transaction, error) {
	return r.query(ctx, `SELECT `+txColumns+` FROM transactions
	WHERE deleted_at IS NULL AND account_id = ? AND date >= ? AND date <= ?
	ORDER BY date DESC, created_at DESC, id`,
		accountID, from.Format(time.DateOnly), to.Format(time.DateOnly))
}

// Unapplied returns live rows whose balance effect is still absent.
func (r *TransactionRepo) Unapplied(ctx context.Context) ([]domain.Transaction, error) {
	return r.query(ctx, `SELECT `+txColumns+` FROM transactions
	WHERE deleted_at IS NULL AND balance_applied = 0 ORDER BY date, created_at, id`)
}

// DeletedApplied returns soft-deleted rows whose effect was never reversed.
func (r *TransactionRepo) DeletedApplied(ctx context.Context) ([]domain.Transaction, error) {
	return r.query(ctx, `SELECT `+txColumns+` FROM transactions
	WHERE deleted_at IS NOT NULL AND balance_applied = 1 ORDER BY date, created_at, id`)
}

// Applied returns every row whose effect is currently in the balances,
// deleted or not.
func (r *TransactionRepo) Applied(ctx context.Context) ([]domain.Transaction, error) {
	return r.query(ctx, `SELECT `+txColumns+` FROM transactions WHERE balance_applied = 1 ORDER BY date, created_at, id`)
}

// HasSourceHash reports whether any row, deleted or not, carries hash.
func (r *TransactionRepo) HasSourceHash(ctx context.Context, hash string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE source_hash = ?`, hash).Scan(&n)
	return n > 0, err
}

func (r *TransactionRepo) query(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (domain.Transaction, error) {
	var t domain.Transaction
	var typ, date, source string
	var transferTo, category, sourceHash, applied sql.NullString
	var deleted sql.NullTime
	if err := row.Scan(&t.ID, &t.AccountID, &transferTo, &typ, &t.Amount, &date, &t.Time, &t.Description,
		&category, &t.Notes, &source, &t.Reconciled, &sourceHash, &applied, &t.BalanceApplied,
		&deleted, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Transaction{}, err
	}
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s date: %w", t.ID, err)
	}
	t.Date = d
	t.Type = domain.TxType(typ)
	t.Source = domain.Source(source)
	t.TransferToAccountID = nullStr(transferTo)
	t.CategoryID = nullStr(category)
	t.SourceHash = nullStr(sourceHash)
	t.DeletedAt = nullTime(deleted)
	if applied.Valid && applied.String != "" {
		if err := json.Unmarshal([]byte(applied.String), &t.AppliedRules); err != nil {
			return domain.Transaction{}, fmt.Errorf("transaction %s applied_rules: %w", t.ID, err)
		}
	}
	return t, nil
}

func encodeApplied(rules []domain.AppliedRule) (*string, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("encode applied rules: %w", err)
	}
	s := string(b)
	return &s, nil
}

func affected(res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrTransactionNotFound)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
