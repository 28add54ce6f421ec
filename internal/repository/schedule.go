package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mesophy/signaged/internal/model"
)

const scheduleColumns = `id, name, playlist_id, start_time, end_time, days_of_week, priority, data, updated_at`

type ScheduleRepository interface {
	FindAll(ctx context.Context) ([]model.Schedule, error)
	FindByID(ctx context.Context, id string) (*model.Schedule, error)
	Upsert(ctx context.Context, schedule model.Schedule) error
	ReplaceAll(ctx context.Context, schedules []model.Schedule) (removed int64, err error)
	Count(ctx context.Context) (int, error)
}

type scheduleRepo struct {
	db *sqlx.DB
}

func NewScheduleRepository(db *sqlx.DB) ScheduleRepository {
	return &scheduleRepo{db: db}
}

func (r *scheduleRepo) FindAll(ctx context.Context) ([]model.Schedule, error) {
	var schedules []model.Schedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT `+scheduleColumns+` FROM schedules
		ORDER BY priority DESC, id ASC
	`)
	return schedules, err
}

func (r *scheduleRepo) FindByID(ctx context.Context, id string) (*model.Schedule, error) {
	var s model.Schedule
	err := r.db.GetContext(ctx, &s, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	return HandleNotFound(&s, err)
}

func (r *scheduleRepo) Upsert(ctx context.Context, schedule model.Schedule) error {
	return upsertSchedule(ctx, r.db, schedule)
}

// ReplaceAll upserts every schedule by id and deletes the ones the cloud no
// longer reports, atomically.
func (r *scheduleRepo) ReplaceAll(ctx context.Context, schedules []model.Schedule) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(schedules))
	for _, s := range schedules {
		if err := upsertSchedule(ctx, tx, s); err != nil {
			return 0, err
		}
		ids = append(ids, s.ID)
	}

	var removed int64
	if len(ids) == 0 {
		result, err := tx.ExecContext(ctx, `DELETE FROM schedules`)
		if err != nil {
			return 0, err
		}
		removed, _ = result.RowsAffected()
	} else {
		query, args, err := sqlx.In(`DELETE FROM schedules WHERE id NOT IN (?)`, ids)
		if err != nil {
			return 0, err
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return 0, err
		}
		removed, _ = result.RowsAffected()
	}

	return removed, tx.Commit()
}

func (r *scheduleRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM schedules`)
	return count, err
}

func upsertSchedule(ctx context.Context, db sqlx.ExecerContext, s model.Schedule) error {
	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	data := s.Data
	if data == "" {
		data = "{}"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, playlist_id, start_time, end_time, days_of_week, priority, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			playlist_id = excluded.playlist_id,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			days_of_week = excluded.days_of_week,
			priority = excluded.priority,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, s.ID, s.Name, s.PlaylistID, s.StartTime, s.EndTime, s.DaysOfWeek, s.Priority, data, updatedAt.UTC())
	return err
}
