// Package event defines the messages that drive the daemon's event loop.
// Every timer and component reports through these instead of mutating
// shared state.
package event

import (
	"encoding/json"
	"time"

	"github.com/mesophy/signaged/internal/model"
)

type Event interface {
	Name() string
}

type PairingCodeIssued struct {
	Session model.PairingSession `json:"session"`
}

type PairingFailed struct {
	Err error `json:"-"`
}

type Paired struct {
	ScreenID   string `json:"screenId"`
	ScreenName string `json:"screenName"`
}

type SyncCompleted struct {
	Schedules int  `json:"schedules"`
	Removed   int  `json:"removed"`
	Changed   bool `json:"changed"`
}

type SyncFailed struct {
	Err error `json:"-"`
}

// SyncRecommended asks for an out-of-band sync.
type SyncRecommended struct {
	Reason string `json:"reason"`
}

type ScheduleActivated struct {
	ScheduleID string `json:"scheduleId"`
	PlaylistID string `json:"playlistId"`
}

type NoContent struct {
	ScheduleID string `json:"scheduleId,omitempty"`
	Reason     string `json:"reason"`
}

type MediaStarted struct {
	ScheduleID string          `json:"scheduleId"`
	MediaID    string          `json:"mediaId"`
	Kind       model.MediaKind `json:"kind"`
}

type MediaCompleted struct {
	ScheduleID string        `json:"scheduleId"`
	MediaID    string        `json:"mediaId"`
	Elapsed    time.Duration `json:"elapsed"`
}

type MediaFailed struct {
	ScheduleID string `json:"scheduleId"`
	MediaID    string `json:"mediaId"`
	Err        error  `json:"-"`
	// Skipped is set once the item reached its failure cap.
	Skipped bool `json:"skipped"`
}

type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type ResourceAlert struct {
	Metric    string   `json:"metric"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
}

// Fault is an unexpected internal error handed to the recovery controller.
type Fault struct {
	Source string `json:"source"`
	Err    error  `json:"-"`
}

// ResolveTick asks the loop to re-evaluate the active schedule.
type ResolveTick struct {
	At time.Time `json:"at"`
}

// Operator actions carried by ControlRequest.
const (
	ActionSync            = "sync"
	ActionClearCache      = "clear-cache"
	ActionRestartPlayback = "restart-playback"
)

// ControlRequest is a local operator action from the status API.
type ControlRequest struct {
	Action string `json:"action"`
}

func (PairingCodeIssued) Name() string { return "pairing_code_issued" }
func (PairingFailed) Name() string     { return "pairing_failed" }
func (Paired) Name() string            { return "paired" }
func (SyncCompleted) Name() string     { return "sync_completed" }
func (SyncFailed) Name() string        { return "sync_failed" }
func (SyncRecommended) Name() string   { return "sync_recommended" }
func (ScheduleActivated) Name() string { return "schedule_activated" }
func (NoContent) Name() string         { return "no_content" }
func (MediaStarted) Name() string      { return "media_started" }
func (MediaCompleted) Name() string    { return "media_completed" }
func (MediaFailed) Name() string       { return "media_failed" }
func (ResourceAlert) Name() string     { return "resource_alert" }
func (Fault) Name() string             { return "fault" }
func (ResolveTick) Name() string       { return "resolve_tick" }
func (ControlRequest) Name() string    { return "control_request" }

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e PairingFailed) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"error": errText(e.Err)})
}

func (e SyncFailed) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"error": errText(e.Err)})
}

func (e MediaFailed) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"scheduleId": e.ScheduleID,
		"mediaId":    e.MediaID,
		"error":      errText(e.Err),
		"skipped":    e.Skipped,
	})
}

func (e Fault) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"source": e.Source, "error": errText(e.Err)})
}
