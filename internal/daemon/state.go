package daemon

import (
	"time"

	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/monitor"
	"github.com/mesophy/signaged/internal/playback"
)

// Phase is the daemon's top-level lifecycle state.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhasePairing    Phase = "pairing"
	PhaseRunning    Phase = "running"
	PhaseRecovering Phase = "recovering"
	PhaseStopped    Phase = "stopped"
)

// State is owned by the event loop. Other goroutines only see copies.
type State struct {
	Phase           Phase
	Identity        *model.DeviceIdentity
	Pairing         *model.PairingSession
	Active          *model.Schedule
	NoContentReason string
	LastSyncAt      time.Time
	LastSyncError   string
}

type CacheStatus struct {
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
	Human string `json:"human"`
}

type RecoveryStatus struct {
	Active   bool `json:"active"`
	Attempts int  `json:"attempts"`
}

// Status is the document served by GET /status.
type Status struct {
	Phase            Phase                 `json:"phase"`
	Version          string                `json:"version"`
	DeviceID         string                `json:"deviceId"`
	Screen           *model.DeviceIdentity `json:"screen,omitempty"`
	Pairing          *model.PairingSession `json:"pairing,omitempty"`
	ActiveScheduleID string                `json:"activeScheduleId,omitempty"`
	NoContentReason  string                `json:"noContentReason,omitempty"`
	LastSyncAt       *time.Time            `json:"lastSyncAt,omitempty"`
	LastSyncError    string                `json:"lastSyncError,omitempty"`
	Playback         playback.Snapshot     `json:"playback"`
	Cache            CacheStatus           `json:"cache"`
	Metrics          monitor.Metrics       `json:"metrics"`
	Throttled        bool                  `json:"throttled"`
	Recovery         RecoveryStatus        `json:"recovery"`
}
