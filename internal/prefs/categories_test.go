package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/ledgerflow/internal/database/repository"
)

func TestCategoriesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", categoriesFile)

	got, err := LoadCategories(path)
	require.NoError(t, err)
	assert.Nil(t, got)

	cats := []repository.Category{{ID: "food", Name: "Food"}, {ID: "rent", Name: "Rent"}}
	require.NoError(t, SaveCategories(path, cats))

	got, err = LoadCategories(path)
	require.NoError(t, err)
	assert.Equal(t, cats, got)
}

func TestLoadCategoriesRejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), categoriesFile)
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"x"}]`), 0o600))
	_, err := LoadCategories(path)
	require.ErrorContains(t, err, "needs id and name")
}
