package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesophy/signaged/internal/model"
)

func TestDeviceConfigRepository_GetSet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewDeviceConfigRepository(db.DB)
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		value, ok, err := repo.Get(ctx, KeyDeviceID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, value)
	})

	t.Run("set then overwrite", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, KeyDeviceID, "pi-0001"))
		require.NoError(t, repo.Set(ctx, KeyDeviceID, "pi-0002"))

		value, ok, err := repo.Get(ctx, KeyDeviceID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "pi-0002", value)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, KeyDeviceID))
		_, ok, err := repo.Get(ctx, KeyDeviceID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDeviceConfigRepository_Identity(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewDeviceConfigRepository(db.DB)
	ctx := context.Background()

	t.Run("unpaired device has no identity", func(t *testing.T) {
		identity, err := repo.LoadIdentity(ctx)
		require.NoError(t, err)
		assert.Nil(t, identity)
	})

	pairedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	saved := model.DeviceIdentity{
		DeviceToken: "t1",
		ScreenID:    "s1",
		ScreenName:  "Lobby",
		PairedAt:    pairedAt,
	}

	t.Run("save and load round trip", func(t *testing.T) {
		require.NoError(t, repo.SaveIdentity(ctx, saved))

		identity, err := repo.LoadIdentity(ctx)
		require.NoError(t, err)
		require.NotNil(t, identity)
		assert.Equal(t, "t1", identity.DeviceToken)
		assert.Equal(t, "s1", identity.ScreenID)
		assert.Equal(t, "Lobby", identity.ScreenName)
		assert.True(t, pairedAt.Equal(identity.PairedAt))
	})

	t.Run("token without screen is unpaired", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, KeyScreenID))
		identity, err := repo.LoadIdentity(ctx)
		require.NoError(t, err)
		assert.Nil(t, identity)
	})

	t.Run("clear keeps unrelated keys", func(t *testing.T) {
		require.NoError(t, repo.SaveIdentity(ctx, saved))
		require.NoError(t, repo.Set(ctx, KeyDeviceID, "pi-0001"))
		require.NoError(t, repo.ClearIdentity(ctx))

		identity, err := repo.LoadIdentity(ctx)
		require.NoError(t, err)
		assert.Nil(t, identity)

		value, ok, err := repo.Get(ctx, KeyDeviceID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "pi-0001", value)
	})
}
