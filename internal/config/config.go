package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	APIBaseURL   string `env:"API_BASE_URL,required"`
	DashboardURL string `env:"DASHBOARD_URL" envDefault:""`
	DataDir      string `env:"DATA_DIR" envDefault:"/var/lib/signaged"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:""`
	CacheDir     string `env:"CACHE_DIR" envDefault:""`
	LockFile     string `env:"LOCK_FILE" envDefault:"/run/signaged.lock"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	StatusAddr   string `env:"STATUS_ADDR" envDefault:"127.0.0.1:8090"`

	ControlPasswordHash string `env:"CONTROL_PASSWORD_HASH"`

	PairingPollSeconds       int `env:"PAIRING_POLL_SECONDS" envDefault:"10"`
	PairingCodeTTLSeconds    int `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"300"`
	SyncIntervalSeconds      int `env:"SYNC_INTERVAL_SECONDS" envDefault:"120"`
	HeartbeatIntervalSeconds int `env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"300"`
	ResolveIntervalSeconds   int `env:"RESOLVE_INTERVAL_SECONDS" envDefault:"30"`
	MonitorIntervalSeconds   int `env:"MONITOR_INTERVAL_SECONDS" envDefault:"30"`

	ImageDurationSeconds int  `env:"IMAGE_DURATION_SECONDS" envDefault:"10"`
	TransitionDelayMs    int  `env:"TRANSITION_DELAY_MS" envDefault:"1000"`
	PlayerGraceSeconds   int  `env:"PLAYER_GRACE_SECONDS" envDefault:"5"`
	MaxItemFailures      int  `env:"MAX_ITEM_FAILURES" envDefault:"3"`
	DefaultPlaylistLoop  bool `env:"DEFAULT_PLAYLIST_LOOP" envDefault:"true"`

	ImagePlayerCmd  string `env:"IMAGE_PLAYER_CMD" envDefault:"fbi -d /dev/fb0 -T 1 -noverbose -a {file}"`
	VideoPlayerCmd  string `env:"VIDEO_PLAYER_CMD" envDefault:"vlc --intf dummy --fullscreen --play-and-exit {file}"`
	DisplayCmd      string `env:"DISPLAY_CMD" envDefault:"fbi -d /dev/fb0 -T 1 -noverbose -a {file}"`
	DisplayClearCmd string `env:"DISPLAY_CLEAR_CMD" envDefault:""`
	ThrottleCmd     string `env:"THROTTLE_CMD" envDefault:""`
	ScreenWidth     int    `env:"SCREEN_WIDTH" envDefault:"1920"`
	ScreenHeight    int    `env:"SCREEN_HEIGHT" envDefault:"1080"`
	UnthrottleCmd   string `env:"UNTHROTTLE_CMD" envDefault:""`

	CacheMaxAgeDays       int   `env:"CACHE_MAX_AGE_DAYS" envDefault:"30"`
	CacheMaxBytes         int64 `env:"CACHE_MAX_BYTES" envDefault:"1073741824"`
	DiskFreeTargetPercent int   `env:"DISK_FREE_TARGET_PERCENT" envDefault:"80"`

	CPUThreshold         float64 `env:"CPU_THRESHOLD" envDefault:"90"`
	MemoryThreshold      float64 `env:"MEMORY_THRESHOLD" envDefault:"90"`
	DiskThreshold        float64 `env:"DISK_THRESHOLD" envDefault:"90"`
	TempThreshold        float64 `env:"TEMP_THRESHOLD" envDefault:"80"`
	AlertCooldownSeconds int     `env:"ALERT_COOLDOWN_SECONDS" envDefault:"300"`

	MaxRecoveryAttempts      int `env:"MAX_RECOVERY_ATTEMPTS" envDefault:"3"`
	RecoveryStabilitySeconds int `env:"RECOVERY_STABILITY_SECONDS" envDefault:"60"`
}

func (c *Config) DBPath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "signaged.db")
}

func (c *Config) ContentDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(c.DataDir, "content")
}

func (c *Config) ScreensDir() string {
	return filepath.Join(c.DataDir, "screens")
}

func (c *Config) PairingPollInterval() time.Duration {
	return seconds(c.PairingPollSeconds)
}

func (c *Config) PairingCodeTTL() time.Duration {
	return seconds(c.PairingCodeTTLSeconds)
}

func (c *Config) SyncInterval() time.Duration {
	return seconds(c.SyncIntervalSeconds)
}

func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.HeartbeatIntervalSeconds)
}

func (c *Config) ResolveInterval() time.Duration {
	return seconds(c.ResolveIntervalSeconds)
}

func (c *Config) MonitorInterval() time.Duration {
	return seconds(c.MonitorIntervalSeconds)
}

func (c *Config) ImageDuration() time.Duration {
	return seconds(c.ImageDurationSeconds)
}

func (c *Config) TransitionDelay() time.Duration {
	return time.Duration(c.TransitionDelayMs) * time.Millisecond
}

func (c *Config) PlayerGrace() time.Duration {
	return seconds(c.PlayerGraceSeconds)
}

func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.CacheMaxAgeDays) * 24 * time.Hour
}

func (c *Config) AlertCooldown() time.Duration {
	return seconds(c.AlertCooldownSeconds)
}

func (c *Config) RecoveryStability() time.Duration {
	return seconds(c.RecoveryStabilitySeconds)
}

func (c *Config) Validate() error {
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if parsed.Scheme != "https" {
		log.Warn().Str("url", c.APIBaseURL).Msg("API_BASE_URL is not https: device token will travel in clear text")
	}

	positive := map[string]int{
		"PAIRING_POLL_SECONDS":       c.PairingPollSeconds,
		"PAIRING_CODE_TTL_SECONDS":   c.PairingCodeTTLSeconds,
		"SYNC_INTERVAL_SECONDS":      c.SyncIntervalSeconds,
		"HEARTBEAT_INTERVAL_SECONDS": c.HeartbeatIntervalSeconds,
		"RESOLVE_INTERVAL_SECONDS":   c.ResolveIntervalSeconds,
		"MONITOR_INTERVAL_SECONDS":   c.MonitorIntervalSeconds,
		"IMAGE_DURATION_SECONDS":     c.ImageDurationSeconds,
		"MAX_RECOVERY_ATTEMPTS":      c.MaxRecoveryAttempts,
		"SCREEN_WIDTH":               c.ScreenWidth,
		"SCREEN_HEIGHT":              c.ScreenHeight,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	if c.TransitionDelayMs < 0 {
		return fmt.Errorf("TRANSITION_DELAY_MS must not be negative")
	}
	if c.DiskFreeTargetPercent <= 0 || c.DiskFreeTargetPercent >= 100 {
		return fmt.Errorf("DISK_FREE_TARGET_PERCENT must be between 1 and 99")
	}
	content := c.ContentDir()
	if filepath.Clean(content) == filepath.Clean(c.DataDir) {
		return fmt.Errorf("CACHE_DIR must not be DATA_DIR itself")
	}
	if within(content, c.DBPath()) {
		return fmt.Errorf("CACHE_DIR %q must not contain the database %q", content, c.DBPath())
	}
	if within(content, c.ScreensDir()) {
		return fmt.Errorf("CACHE_DIR %q must not contain the screens dir %q", content, c.ScreensDir())
	}
	if strings.TrimSpace(c.ImagePlayerCmd) == "" || strings.TrimSpace(c.VideoPlayerCmd) == "" {
		return fmt.Errorf("IMAGE_PLAYER_CMD and VIDEO_PLAYER_CMD must be set")
	}

	if c.ControlPasswordHash != "" {
		if !strings.HasPrefix(c.ControlPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.ControlPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.ControlPasswordHash, "$2y$") {
			return fmt.Errorf("CONTROL_PASSWORD_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <password>)")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
