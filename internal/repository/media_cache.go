package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mesophy/signaged/internal/model"
)

const mediaCacheColumns = `id, name, url, local_path, mime_type, file_size, duration, downloaded_at`

type MediaCacheRepository interface {
	Find(ctx context.Context, mediaID string) (*model.CacheEntry, error)
	Upsert(ctx context.Context, entry model.CacheEntry) error
	Delete(ctx context.Context, mediaID string) error
	DeleteAll(ctx context.Context) (int64, error)
	ListOldestFirst(ctx context.Context) ([]model.CacheEntry, error)
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]model.CacheEntry, error)
	TotalSize(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int, error)
}

type mediaCacheRepo struct {
	db *sqlx.DB
}

func NewMediaCacheRepository(db *sqlx.DB) MediaCacheRepository {
	return &mediaCacheRepo{db: db}
}

func (r *mediaCacheRepo) Find(ctx context.Context, mediaID string) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	err := r.db.GetContext(ctx, &entry, `SELECT `+mediaCacheColumns+` FROM media_cache WHERE id = ?`, mediaID)
	return HandleNotFound(&entry, err)
}

func (r *mediaCacheRepo) Upsert(ctx context.Context, e model.CacheEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media_cache (id, name, url, local_path, mime_type, file_size, duration, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			local_path = excluded.local_path,
			mime_type = excluded.mime_type,
			file_size = excluded.file_size,
			duration = excluded.duration,
			downloaded_at = excluded.downloaded_at
	`, e.MediaID, e.Name, e.SourceURL, e.LocalPath, e.MimeType, e.FileSize, e.Duration, e.DownloadedAt.UTC())
	return err
}

func (r *mediaCacheRepo) Delete(ctx context.Context, mediaID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM media_cache WHERE id = ?`, mediaID)
	return err
}

func (r *mediaCacheRepo) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM media_cache`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *mediaCacheRepo) ListOldestFirst(ctx context.Context) ([]model.CacheEntry, error) {
	var entries []model.CacheEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT `+mediaCacheColumns+` FROM media_cache
		ORDER BY downloaded_at ASC, id ASC
	`)
	return entries, err
}

func (r *mediaCacheRepo) ListOlderThan(ctx context.Context, cutoff time.Time) ([]model.CacheEntry, error) {
	var entries []model.CacheEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT `+mediaCacheColumns+` FROM media_cache
		WHERE downloaded_at < ?
		ORDER BY downloaded_at ASC, id ASC
	`, cutoff.UTC())
	return entries, err
}

func (r *mediaCacheRepo) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(file_size), 0) FROM media_cache`)
	return total, err
}

func (r *mediaCacheRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM media_cache`)
	return count, err
}
