package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "signaged.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))

	var tables []string
	err = db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	require.NoError(t, err)
	assert.Equal(t, []string{"device_config", "media_cache", "playback_log", "schedules", "sync_log"}, tables)

	t.Run("migrate is idempotent", func(t *testing.T) {
		assert.NoError(t, db.Migrate(context.Background()))
	})
}

func TestWithTx(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	insert := func(tx *sqlx.Tx, key string) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO device_config (key, value, updated_at) VALUES (?, ?, ?)`, key, "v", time.Now())
		return err
	}

	t.Run("commits on success", func(t *testing.T) {
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			return insert(tx, "committed")
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM device_config WHERE key = 'committed'`))
		assert.Equal(t, 1, count)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		sentinel := errors.New("abort")
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := insert(tx, "rolled-back"); err != nil {
				return err
			}
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		var count int
		require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM device_config WHERE key = 'rolled-back'`))
		assert.Equal(t, 0, count)
	})
}
