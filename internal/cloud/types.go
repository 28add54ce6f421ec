package cloud

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mesophy/signaged/internal/model"
)

type generateCodeRequest struct {
	DeviceInfo  model.DeviceInfo `json:"device_info"`
	PairingCode string           `json:"pairing_code,omitempty"`
}

type generateCodeResponse struct {
	PairingCode string `json:"pairing_code"`
}

// PairingStatus is the check-pairing response.
type PairingStatus struct {
	Paired       bool          `json:"paired"`
	DeviceConfig *DeviceConfig `json:"device_config,omitempty"`
}

type DeviceConfig struct {
	DeviceToken string `json:"device_token"`
	ScreenID    string `json:"screen_id"`
	ScreenName  string `json:"screen_name"`
}

// SyncResult is the sync response. Schedules are kept raw so the full
// document can be persisted verbatim.
type SyncResult struct {
	ScheduleChanged bool              `json:"schedule_changed"`
	MediaChanged    bool              `json:"media_changed"`
	CurrentSchedule json.RawMessage   `json:"current_schedule,omitempty"`
	AllSchedules    []json.RawMessage `json:"all_schedules"`
}

// Schedules decodes every schedule document. A document that cannot be
// decoded fails the whole result so a partial set never replaces local state.
func (r SyncResult) Schedules(now time.Time) ([]model.Schedule, error) {
	schedules := make([]model.Schedule, 0, len(r.AllSchedules))
	seen := make(map[string]bool, len(r.AllSchedules))
	for i, raw := range r.AllSchedules {
		s, err := DecodeSchedule(raw, now)
		if err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// DecodeSchedule converts one cloud schedule document into a Schedule. A
// document without days_of_week runs every day.
func DecodeSchedule(raw json.RawMessage, now time.Time) (model.Schedule, error) {
	var doc model.ScheduleDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Schedule{}, err
	}
	if strings.TrimSpace(doc.ID) == "" {
		return model.Schedule{}, fmt.Errorf("missing id")
	}

	days := model.AllDays()
	if doc.DaysOfWeek != nil {
		days = model.NormalizeDays(doc.DaysOfWeek)
	}

	playlistID := doc.PlaylistID
	if playlistID == "" && doc.Playlist != nil {
		playlistID = doc.Playlist.ID
	}

	return model.Schedule{
		ID:         doc.ID,
		Name:       doc.Name,
		PlaylistID: playlistID,
		StartTime:  doc.StartTime,
		EndTime:    doc.EndTime,
		DaysOfWeek: days,
		Priority:   doc.Priority,
		Data:       string(raw),
		UpdatedAt:  now,
	}, nil
}

// Heartbeat is the device health report.
type Heartbeat struct {
	Status      model.ScreenStatus `json:"status"`
	SystemInfo  SystemInfo         `json:"system_info"`
	DisplayInfo DisplayInfo        `json:"display_info"`
}

type SystemInfo struct {
	CPUPercent     float64 `json:"cpu_usage"`
	MemoryPercent  float64 `json:"memory_usage"`
	DiskPercent    float64 `json:"disk_usage"`
	TemperatureC   float64 `json:"temperature,omitempty"`
	UptimeSeconds  int64   `json:"uptime"`
	CacheFiles     int     `json:"cache_files"`
	CacheBytes     int64   `json:"cache_bytes"`
	DaemonVersion  string  `json:"version"`
	Platform       string  `json:"platform"`
	RecoveryActive bool    `json:"recovery_active,omitempty"`
}

type DisplayInfo struct {
	ScheduleID string `json:"current_schedule_id,omitempty"`
	PlaylistID string `json:"current_playlist_id,omitempty"`
	MediaID    string `json:"current_media_id,omitempty"`
}

type HeartbeatResult struct {
	SyncRecommended bool `json:"sync_recommended"`
}
