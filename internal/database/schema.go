package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS device_config (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS schedules (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		playlist_id  TEXT NOT NULL DEFAULT '',
		start_time   TEXT NOT NULL,
		end_time     TEXT NOT NULL,
		days_of_week TEXT NOT NULL DEFAULT '',
		priority     INTEGER NOT NULL DEFAULT 0,
		data         TEXT NOT NULL DEFAULT '{}',
		updated_at   DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS media_cache (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL DEFAULT '',
		url           TEXT NOT NULL,
		local_path    TEXT NOT NULL,
		mime_type     TEXT NOT NULL DEFAULT '',
		file_size     INTEGER NOT NULL,
		duration      INTEGER NOT NULL DEFAULT 0,
		downloaded_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_media_cache_downloaded_at ON media_cache(downloaded_at)`,

	`CREATE TABLE IF NOT EXISTS playback_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		media_id    TEXT NOT NULL,
		playlist_id TEXT NOT NULL DEFAULT '',
		schedule_id TEXT NOT NULL DEFAULT '',
		started_at  DATETIME NOT NULL,
		ended_at    DATETIME,
		duration_ms INTEGER,
		status      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_playback_log_started_at ON playback_log(started_at)`,

	`CREATE TABLE IF NOT EXISTS sync_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_type  TEXT NOT NULL,
		success    INTEGER NOT NULL,
		message    TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_log_created_at ON sync_log(created_at)`,
}
