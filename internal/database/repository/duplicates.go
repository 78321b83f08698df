package repository

import (
	"context"
	"database/sql"
	"errors"
)

// DuplicateRepo handles the pending duplicate review queue.
type DuplicateRepo struct{ db DBTX }

func NewDuplicateRepo(db DBTX) *DuplicateRepo { return &DuplicateRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *DuplicateRepo) WithTx(tx DBTX) *DuplicateRepo { return &DuplicateRepo{db: tx} }

func (r *DuplicateRepo) Add(ctx context.Context, pd PendingDuplicate) error {
	if pd.Status == "" {
		pd.Status = DuplicatePending
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO pending_duplicates(id, transaction_id, existing_id, similarity, status, created_at)
	VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, pd.ID, pd.TransactionID, pd.ExistingID, pd.Similarity, pd.Status)
	return err
}

func (r *DuplicateRepo) ListPending(ctx context.Context) ([]PendingDuplicate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, transaction_id, existing_id, similarity, status, created_at FROM pending_duplicates WHERE status = ? ORDER BY created_at ASC, rowid ASC`, DuplicatePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingDuplicate
	for rows.Next() {
		pd, err := scanDuplicate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}

func (r *DuplicateRepo) Get(ctx context.Context, id string) (*PendingDuplicate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, transaction_id, existing_id, similarity, status, created_at FROM pending_duplicates WHERE id = ?`, id)
	pd, err := scanDuplicate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &pd, nil
}

// Resolve moves a pending entry to status. It reports false when the entry
// was already resolved.
func (r *DuplicateRepo) Resolve(ctx context.Context, id, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE pending_duplicates SET status = ? WHERE id = ? AND status = ?`, status, id, DuplicatePending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanDuplicate(row scanner) (PendingDuplicate, error) {
	var pd PendingDuplicate
	err := row.Scan(&pd.ID, &pd.TransactionID, &pd.ExistingID, &pd.Similarity, &pd.Status, &pd.CreatedAt)
	return pd, err
}
