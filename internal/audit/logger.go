package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventControlSync            EventType = "control_sync"
	EventControlClearCache      EventType = "control_clear_cache"
	EventControlRestartPlayback EventType = "control_restart_playback"
	EventAuthFailure            EventType = "auth_failure"
	EventRateLimitExceed        EventType = "rate_limit_exceeded"
	EventPairingReset           EventType = "pairing_reset"
)

type Event struct {
	Type      EventType
	User      string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "control").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.User != "" {
		logger = logger.With().Str("user", event.User).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("control audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case error:
		return e.AnErr(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	if user, _, ok := r.BasicAuth(); ok && event.User == "" {
		event.User = user
	}
	Log(r.Context(), event)
}
