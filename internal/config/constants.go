package config

import "time"

// Database settings. SQLite allows a single writer; one connection makes
// the store the serialization point for every component.
const (
	DBMaxOpenConns = 1
	DBBusyTimeout  = 5 * time.Second
)

// Cloud API timeouts
const (
	PairingRequestTimeout   = 15 * time.Second
	SyncRequestTimeout      = 30 * time.Second
	HeartbeatRequestTimeout = 15 * time.Second
	DownloadTimeout         = 60 * time.Second
)

// Retry policy for cloud calls within a single tick
const (
	RetryMaxAttempts = 3
	RetryDelay       = 2 * time.Second
)

// Local status server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 10 * time.Second
	ServerIdleTimeout     = 60 * time.Second
	ServerShutdownTimeout = 5 * time.Second
)

// Content cache
const (
	MinMediaFileSize  = 100
	MaxCacheFilename  = 100
	SyncLogRetention  = 30 * 24 * time.Hour
	HousekeepInterval = 24 * time.Hour
)

// Playback
const (
	MaxVideoDuration    = 2 * time.Hour
	VideoDeadlineSlack  = 2 * time.Second
	PlaybackLogRecent   = 50
	RecoveryPause       = 5 * time.Second
	SustainedHotSamples = 3
	ThrottleCooldown    = 10 * time.Minute
)

// Alerts are raised as high severity when the value is more than this
// fraction above the threshold.
const AlertHighMargin = 0.10

// Daemon version reported in heartbeats.
const Version = "0.4.0"
