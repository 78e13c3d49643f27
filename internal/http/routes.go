package httpapp

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"

	"github.com/cueprep/cueprep/internal/analysis"
	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/http/dto"
	"github.com/cueprep/cueprep/internal/playlist"
	"github.com/cueprep/cueprep/internal/store"
)

func (h *Handler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	var req dto.StartAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.MaxFiles != nil && *req.MaxFiles < 0 {
		h.respondError(w, fmt.Errorf("%w: max_files must be >= 0", domain.ErrValidation))
		return
	}

	task, err := h.Coordinator.StartBatch(req.Directories, req.Cap())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, dto.NewTaskAccepted(task))
}

func (h *Handler) AnalyzeSingle(w http.ResponseWriter, r *http.Request) {
	var req dto.AnalyzeSingleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	task, created, err := h.Coordinator.AnalyzeSingle(req.FilePath)
	if err != nil {
		h.respondError(w, err)
		return
	}

	status := http.StatusAccepted
	if !created {
		// an active task already covers this path
		status = http.StatusOK
	}
	h.respondJSON(w, status, dto.NewTaskAccepted(task))
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	tasks, err := h.Coordinator.Tasks(all)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	h.respondJSON(w, http.StatusOK, dto.TaskListResponse{Tasks: tasks, Count: len(tasks)})
}

func (h *Handler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.Coordinator.Status(chi.URLParam(r, "taskID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dto.NewStatusResponse(view.Task, view.Children))
}

func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	cancelled, err := h.Coordinator.Cancel(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dto.CancelResponse{TaskID: id, Cancelled: cancelled})
}

func (h *Handler) ListTracks(w http.ResponseWriter, r *http.Request) {
	q := dto.ParseListQuery(r.URL.Query())
	tracks, err := h.DB.ListTracks(store.TrackFilter{
		Search:  q.Search,
		Camelot: q.Key,
		MinBPM:  q.MinBPM,
		MaxBPM:  q.MaxBPM,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if tracks == nil {
		tracks = []*domain.Track{}
	}
	h.respondJSON(w, http.StatusOK, dto.TrackListResponse{Tracks: tracks, Count: len(tracks)})
}

func (h *Handler) GetTrack(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	track, err := h.DB.GetTrackByID(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, track)
}

func (h *Handler) UpdateTrack(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req dto.TrackUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.respondError(w, fmt.Errorf("%w: %s", domain.ErrValidation, dto.ToResponse(errs)))
		return
	}

	updates := ToUpdates(&req)
	if len(updates) == 0 {
		h.respondError(w, fmt.Errorf("%w: no updatable fields provided", domain.ErrValidation))
		return
	}

	if err := h.DB.UpdateTrackPartial(id, updates); err != nil {
		h.respondError(w, err)
		return
	}
	track, err := h.DB.GetTrackByID(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, track)
}

func (h *Handler) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.DB.DeleteTrack(id); err != nil {
		h.respondError(w, err)
		return
	}
	h.artwork.Delete(artworkKey(id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TrackFeatures(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if _, err := h.DB.GetTrackByID(id); err != nil {
		h.respondError(w, err)
		return
	}

	global, err := h.DB.GetGlobalFeatures(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	series, err := h.DB.GetSeriesFeatures(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dto.FeaturesResponse{TrackID: id, Global: global, Series: series})
}

func (h *Handler) TrackArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := trackIDParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if cached, ok := h.artwork.Get(artworkKey(id)); ok {
		writeArtwork(w, cached.(*analysis.Artwork))
		return
	}

	art, err := h.Coordinator.Artwork(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.artwork.Set(artworkKey(id), art, cache.DefaultExpiration)
	writeArtwork(w, art)
}

func (h *Handler) BuildPlaylist(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaylistRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	tracks, err := h.DB.ListAnalyzedTracks()
	if err != nil {
		h.respondError(w, err)
		return
	}
	entries, err := playlist.Plan(tracks, playlist.Options{
		SeedTrackID:  req.SeedTrackID,
		Size:         req.Size,
		BPMTolerance: req.BPMTolerance,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if entries == nil {
		entries = []playlist.Entry{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Coordinator.Stats()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.Settings.Get())
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		h.respondError(w, err)
		return
	}

	merged, err := h.Settings.Update(patch)
	if err != nil {
		// settings persistence failures surface with the underlying message
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, merged)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func trackIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "trackID"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid track id", domain.ErrValidation)
	}
	return id, nil
}

func artworkKey(id int64) string {
	return fmt.Sprintf("artwork:%d", id)
}

func writeArtwork(w http.ResponseWriter, art *analysis.Artwork) {
	w.Header().Set("Content-Type", art.MIME)
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(art.Data) //nolint:errcheck // response is already committed
}
