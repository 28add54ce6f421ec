package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mesophy/signaged/internal/audit"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/middleware"
)

// ControlHandler turns operator requests into daemon events. Actions run
// asynchronously on the event loop.
type ControlHandler struct {
	events event.Poster
}

func NewControlHandler(events event.Poster) *ControlHandler {
	return &ControlHandler{events: events}
}

func (h *ControlHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sync", h.action(event.ActionSync, audit.EventControlSync))
	r.Post("/clear-cache", h.action(event.ActionClearCache, audit.EventControlClearCache))
	r.Post("/restart-playback", h.action(event.ActionRestartPlayback, audit.EventControlRestartPlayback))

	return r
}

func (h *ControlHandler) action(action string, auditType audit.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audit.LogFromRequest(r, audit.Event{
			Type: auditType,
			User: middleware.GetOperator(r.Context()),
		})

		h.events.Post(event.ControlRequest{Action: action})

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"action": action,
		})
	}
}
