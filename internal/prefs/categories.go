// Package prefs keeps user-editable state outside the database so it can
// survive a reset.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jask/ledgerflow/internal/database/repository"
)

const categoriesFile = "categories.json"

// category is the on-disk shape. Deletion state is not exported.
type category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CategoriesPath is the default backup location under the user config dir.
func CategoriesPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ledgerflow", categoriesFile), nil
}

// SaveCategories writes cats to path atomically.
func SaveCategories(path string, cats []repository.Category) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out := make([]category, 0, len(cats))
	for _, c := range cats {
		out = append(out, category{ID: c.ID, Name: c.Name})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadCategories reads a backup written by SaveCategories. A missing file is
// not an error and yields nil.
func LoadCategories(path string) ([]repository.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var in []category
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cats := make([]repository.Category, 0, len(in))
	for i, c := range in {
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("%s: entry %d needs id and name", path, i)
		}
		cats = append(cats, repository.Category{ID: c.ID, Name: c.Name})
	}
	return cats, nil
}
