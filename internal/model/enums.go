package model

type DaemonPhase string

const (
	PhaseStarting   DaemonPhase = "starting"
	PhaseUnpaired   DaemonPhase = "unpaired"
	PhaseAwaiting   DaemonPhase = "awaiting_claim"
	PhasePaired     DaemonPhase = "paired"
	PhaseRecovering DaemonPhase = "recovering"
	PhaseStopping   DaemonPhase = "stopping"
)

type PlaybackStatus string

const (
	PlaybackStatusPlaying   PlaybackStatus = "playing"
	PlaybackStatusCompleted PlaybackStatus = "completed"
	PlaybackStatusError     PlaybackStatus = "error"
)

type SyncKind string

const (
	SyncKindContent   SyncKind = "content"
	SyncKindHeartbeat SyncKind = "heartbeat"
	SyncKindError     SyncKind = "error"
)

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindOther MediaKind = "other"
)

// ScreenStatus is the coarse state reported in heartbeats.
type ScreenStatus string

const (
	ScreenStatusPlaying   ScreenStatus = "playing"
	ScreenStatusIdle      ScreenStatus = "idle"
	ScreenStatusNoContent ScreenStatus = "no_content"
)
