package model

import "time"

type PlaybackLogEntry struct {
	ID         int64          `db:"id" json:"id"`
	MediaID    string         `db:"media_id" json:"mediaId"`
	PlaylistID string         `db:"playlist_id" json:"playlistId"`
	ScheduleID string         `db:"schedule_id" json:"scheduleId"`
	StartedAt  time.Time      `db:"started_at" json:"startedAt"`
	EndedAt    *time.Time     `db:"ended_at" json:"endedAt,omitempty"`
	DurationMs *int64         `db:"duration_ms" json:"durationMs,omitempty"`
	Status     PlaybackStatus `db:"status" json:"status"`
}

type OpenPlaybackParams struct {
	MediaID    string
	PlaylistID string
	ScheduleID string
	StartedAt  time.Time
}

type SyncLogEntry struct {
	ID        int64     `db:"id" json:"id"`
	Kind      SyncKind  `db:"sync_type" json:"kind"`
	Success   bool      `db:"success" json:"success"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
