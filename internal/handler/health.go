package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mesophy/signaged/internal/config"
	"github.com/mesophy/signaged/internal/httputil"
)

// StatusProvider reports the daemon's live state.
type StatusProvider interface {
	Status(ctx context.Context) (any, error)
}

type StatusHandler struct {
	provider  StatusProvider
	startedAt time.Time
}

func NewStatusHandler(provider StatusProvider, startedAt time.Time) *StatusHandler {
	return &StatusHandler{provider: provider, startedAt: startedAt}
}

// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   config.Version,
		"uptime":    int64(time.Since(h.startedAt).Seconds()),
		"timestamp": time.Now().UnixMilli(),
	})
}

// GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.provider.Status(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
