package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mesophy/signaged/internal/model"
)

type SyncLogRepository interface {
	Append(ctx context.Context, kind model.SyncKind, success bool, message string) error
	Recent(ctx context.Context, limit int) ([]model.SyncLogEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type syncLogRepo struct {
	db *sqlx.DB
}

func NewSyncLogRepository(db *sqlx.DB) SyncLogRepository {
	return &syncLogRepo{db: db}
}

func (r *syncLogRepo) Append(ctx context.Context, kind model.SyncKind, success bool, message string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_log (sync_type, success, message, created_at)
		VALUES (?, ?, ?, ?)
	`, kind, success, message, time.Now().UTC())
	return err
}

func (r *syncLogRepo) Recent(ctx context.Context, limit int) ([]model.SyncLogEntry, error) {
	var entries []model.SyncLogEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, sync_type, success, message, created_at
		FROM sync_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	return entries, err
}

func (r *syncLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_log WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
