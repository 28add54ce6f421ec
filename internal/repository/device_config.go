package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mesophy/signaged/internal/model"
)

// Keys held in device_config.
const (
	KeyDeviceToken = "device_token"
	KeyScreenID    = "screen_id"
	KeyScreenName  = "screen_name"
	KeyPairedAt    = "paired_at"
	KeyDeviceID    = "device_id"
)

var identityKeys = []string{KeyDeviceToken, KeyScreenID, KeyScreenName, KeyPairedAt}

type DeviceConfigRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	LoadIdentity(ctx context.Context) (*model.DeviceIdentity, error)
	SaveIdentity(ctx context.Context, identity model.DeviceIdentity) error
	ClearIdentity(ctx context.Context) error
}

type deviceConfigRepo struct {
	db *sqlx.DB
}

func NewDeviceConfigRepository(db *sqlx.DB) DeviceConfigRepository {
	return &deviceConfigRepo{db: db}
}

func (r *deviceConfigRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM device_config WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *deviceConfigRepo) Set(ctx context.Context, key, value string) error {
	return setConfig(ctx, r.db, key, value)
}

func (r *deviceConfigRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM device_config WHERE key = ?`, key)
	return err
}

// LoadIdentity returns nil when the device has never been paired. A token
// without a screen id is treated as unpaired.
func (r *deviceConfigRepo) LoadIdentity(ctx context.Context) (*model.DeviceIdentity, error) {
	query, args, err := sqlx.In(`SELECT key, value FROM device_config WHERE key IN (?)`, identityKeys)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	if values[KeyDeviceToken] == "" || values[KeyScreenID] == "" {
		return nil, nil
	}

	identity := &model.DeviceIdentity{
		DeviceToken: values[KeyDeviceToken],
		ScreenID:    values[KeyScreenID],
		ScreenName:  values[KeyScreenName],
	}
	if raw := values[KeyPairedAt]; raw != "" {
		pairedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse paired_at: %w", err)
		}
		identity.PairedAt = pairedAt
	}
	return identity, nil
}

// SaveIdentity writes every identity key in one transaction so a crash never
// leaves a token without its screen.
func (r *deviceConfigRepo) SaveIdentity(ctx context.Context, identity model.DeviceIdentity) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	values := map[string]string{
		KeyDeviceToken: identity.DeviceToken,
		KeyScreenID:    identity.ScreenID,
		KeyScreenName:  identity.ScreenName,
		KeyPairedAt:    identity.PairedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, key := range identityKeys {
		if err := setConfig(ctx, tx, key, values[key]); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (r *deviceConfigRepo) ClearIdentity(ctx context.Context) error {
	query, args, err := sqlx.In(`DELETE FROM device_config WHERE key IN (?)`, identityKeys)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}

func setConfig(ctx context.Context, db sqlx.ExecerContext, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO device_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}
