package repository

import (
	"context"
	"database/sql"
)

// CategoryRepo handles categories.
type CategoryRepo struct {
	db DBTX
}

func NewCategoryRepo(db DBTX) *CategoryRepo {
	return &CategoryRepo{db: db}
}

func (r *CategoryRepo) Upsert(ctx context.Context, c Category) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO categories(id, name) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET name=excluded.name, deleted_at=NULL;
	`, c.ID, c.Name)
	return err
}

func (r *CategoryRepo) List(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, deleted_at FROM categories WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		var deleted sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &deleted); err != nil {
			return nil, err
		}
		c.DeletedAt = nullTime(deleted)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CategoryRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE categories SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`, id)
	return err
}

// LiveIDs returns the ids of every live category.
func (r *CategoryRepo) LiveIDs(ctx context.Context) (map[string]bool, error) {
	return liveIDs(ctx, r.db, `SELECT id FROM categories WHERE deleted_at IS NULL`)
}
