package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// AccountRepo handles accounts. It never writes balance or version.
type AccountRepo struct {
	db DBTX
}

func NewAccountRepo(db DBTX) *AccountRepo {
	return &AccountRepo{db: db}
}

// WithTx returns a repo bound to tx.
func (r *AccountRepo) WithTx(tx DBTX) *AccountRepo { return &AccountRepo{db: tx} }

const accountColumns = `id, name, institution, currency, balance, version, is_active, deleted_at, created_at, updated_at`

// Upsert creates or renames an account. New accounts start at a zero balance.
func (r *AccountRepo) Upsert(ctx context.Context, a Account) error {
	if a.Currency == "" {
		a.Currency = "AUD"
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO accounts(id, name, institution, currency, is_active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 institution=excluded.institution,
	 currency=excluded.currency,
	 is_active=excluded.is_active,
	 updated_at=CURRENT_TIMESTAMP;
	`, a.ID, a.Name, a.Institution, strings.ToUpper(a.Currency), a.IsActive)
	return err
}

func (r *AccountRepo) Get(ctx context.Context, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// ByName finds a live account by name.
func (r *AccountRepo) ByName(ctx context.Context, name string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE name = ? AND deleted_at IS NULL`, name)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// List returns live accounts ordered by name.
func (r *AccountRepo) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SoftDelete hides the account. Its balance stays as it was.
func (r *AccountRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`, id)
	return err
}

// Exists reports whether a live account with id exists.
func (r *AccountRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE id = ? AND deleted_at IS NULL`, id).Scan(&n)
	return n > 0, err
}

// LiveIDs returns the ids of every live account.
func (r *AccountRepo) LiveIDs(ctx context.Context) (map[string]bool, error) {
	return liveIDs(ctx, r.db, `SELECT id FROM accounts WHERE deleted_at IS NULL`)
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var deleted sql.NullTime
	if err := row.Scan(&a.ID, &a.Name, &a.Institution, &a.Currency, &a.Balance, &a.Version,
		&a.IsActive, &deleted, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	a.DeletedAt = nullTime(deleted)
	return a, nil
}

func liveIDs(ctx context.Context, db DBTX, query string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
