package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/httputil"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/repository"
)

type LogsHandler struct {
	playbackLogRepo repository.PlaybackLogRepository
	syncLogRepo     repository.SyncLogRepository
}

func NewLogsHandler(playbackLogRepo repository.PlaybackLogRepository, syncLogRepo repository.SyncLogRepository) *LogsHandler {
	return &LogsHandler{
		playbackLogRepo: playbackLogRepo,
		syncLogRepo:     syncLogRepo,
	}
}

func (h *LogsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/playback", h.Playback)
	r.Get("/sync", h.Sync)

	return r
}

// GET /logs/playback?limit=N
func (h *LogsHandler) Playback(w http.ResponseWriter, r *http.Request) {
	entries, err := h.playbackLogRepo.Recent(r.Context(), ParseLimit(r))
	if err != nil {
		log.Error().Err(err).Msg("failed to list playback log")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	if entries == nil {
		entries = []model.PlaybackLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GET /logs/sync?limit=N
func (h *LogsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	entries, err := h.syncLogRepo.Recent(r.Context(), ParseLimit(r))
	if err != nil {
		log.Error().Err(err).Msg("failed to list sync log")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	if entries == nil {
		entries = []model.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
