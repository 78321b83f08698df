package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/jask/ledgerflow/internal/database/repository"
)

// DefaultCategories are created on first run.
var DefaultCategories = []string{
	"Income",
	"Food > Groceries",
	"Food > Restaurants",
	"Transport",
	"Shopping",
	"Utilities",
	"Subscriptions",
	"Savings",
	"Health",
	"Entertainment",
}

// CategoryID returns the stable id for a category name.
func CategoryID(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("cat:"+key)).String()
}

// SeedDefaults ensures baseline categories exist for new databases.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	catRepo := repository.NewCategoryRepo(db)
	existing, err := catRepo.List(ctx)
	if err == nil && len(existing) > 0 {
		return nil
	}
	for _, name := range DefaultCategories {
		if err := catRepo.Upsert(ctx, repository.Category{ID: CategoryID(name), Name: name}); err != nil {
			return err
		}
	}
	return nil
}
