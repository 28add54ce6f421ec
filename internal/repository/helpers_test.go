package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesophy/signaged/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}
