package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mesophy/signaged/internal/model"
)

type PlaybackLogRepository interface {
	Open(ctx context.Context, params model.OpenPlaybackParams) (int64, error)
	Close(ctx context.Context, id int64, status model.PlaybackStatus, endedAt time.Time) error
	CloseDangling(ctx context.Context, endedAt time.Time) (int64, error)
	Recent(ctx context.Context, limit int) ([]model.PlaybackLogEntry, error)
}

type playbackLogRepo struct {
	db *sqlx.DB
}

func NewPlaybackLogRepository(db *sqlx.DB) PlaybackLogRepository {
	return &playbackLogRepo{db: db}
}

func (r *playbackLogRepo) Open(ctx context.Context, p model.OpenPlaybackParams) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO playback_log (media_id, playlist_id, schedule_id, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, p.MediaID, p.PlaylistID, p.ScheduleID, p.StartedAt.UTC(), model.PlaybackStatusPlaying)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Close terminates an open entry. Closing an already-closed entry is a no-op.
func (r *playbackLogRepo) Close(ctx context.Context, id int64, status model.PlaybackStatus, endedAt time.Time) error {
	var startedAt time.Time
	err := r.db.GetContext(ctx, &startedAt, `
		SELECT started_at FROM playback_log WHERE id = ? AND ended_at IS NULL
	`, id)
	if found, err := HandleNotFound(&startedAt, err); err != nil || found == nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE playback_log SET
			ended_at = ?,
			duration_ms = ?,
			status = ?
		WHERE id = ?
	`, endedAt.UTC(), endedAt.Sub(startedAt).Milliseconds(), status, id)
	return err
}

// CloseDangling marks entries left open by a previous run as errors.
func (r *playbackLogRepo) CloseDangling(ctx context.Context, endedAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE playback_log SET
			ended_at = ?,
			status = ?
		WHERE ended_at IS NULL
	`, endedAt.UTC(), model.PlaybackStatusError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *playbackLogRepo) Recent(ctx context.Context, limit int) ([]model.PlaybackLogEntry, error) {
	var entries []model.PlaybackLogEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, media_id, playlist_id, schedule_id, started_at, ended_at, duration_ms, status
		FROM playback_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	return entries, err
}
