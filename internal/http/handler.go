// Package httpapp exposes the coordinator, the track library, and the
// runtime settings over a JSON API.
package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"

	"github.com/cueprep/cueprep/internal/constants"
	"github.com/cueprep/cueprep/internal/coordinator"
	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/logger"
	"github.com/cueprep/cueprep/internal/settings"
	"github.com/cueprep/cueprep/internal/store"
)

type Handler struct {
	Coordinator *coordinator.Coordinator
	DB          *store.DB
	Settings    *settings.Store
	Logger      *logger.Logger

	artwork *cache.Cache
}

func NewHandler(c *coordinator.Coordinator, db *store.DB, st *settings.Store, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Coordinator: c,
		DB:          db,
		Settings:    st,
		Logger:      log.WithComponent("http"),
		artwork:     cache.New(constants.DefaultArtworkTTL, 10*time.Minute),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/analysis/start", h.StartAnalysis)
	r.Post("/api/analyze/single", h.AnalyzeSingle)

	r.Get("/api/tasks", h.ListTasks)
	r.Get("/api/tasks/{taskID}", h.TaskStatus)
	r.Post("/api/tasks/{taskID}/cancel", h.CancelTask)

	r.Get("/api/tracks", h.ListTracks)
	r.Get("/api/tracks/{trackID}", h.GetTrack)
	r.Put("/api/tracks/{trackID}", h.UpdateTrack)
	r.Delete("/api/tracks/{trackID}", h.DeleteTrack)
	r.Get("/api/tracks/{trackID}/features", h.TrackFeatures)
	r.Get("/api/tracks/{trackID}/artwork", h.TrackArtwork)

	r.Post("/api/playlist", h.BuildPlaylist)

	r.Get("/api/cache/stats", h.CacheStats)
	r.Get("/api/config/settings", h.GetSettings)
	r.Put("/api/config/settings", h.UpdateSettings)
	r.Get("/api/health", h.Health)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("Failed to encode response", "error", err)
	}
}

// respondError maps the error taxonomy onto status codes. Anything outside
// the taxonomy is a 500 and gets logged.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrBusy):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStoreBusy):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("Request failed", "error", err)
	}
	h.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	return nil
}
