package dto

import (
	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/store"
)

// TaskAccepted is the body returned when a submission lands, new or
// deduplicated.
type TaskAccepted struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func NewTaskAccepted(t *domain.Task) TaskAccepted {
	return TaskAccepted{TaskID: t.ID, Status: string(t.Status)}
}

// ChildStats summarizes a batch parent's children by status.
type ChildStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Active    int `json:"active"`
}

// StatusResponse is one task with, for batch parents, its child breakdown.
type StatusResponse struct {
	*domain.Task
	Children *ChildStats `json:"children,omitempty"`
}

func NewStatusResponse(t *domain.Task, cs *store.ChildStats) StatusResponse {
	resp := StatusResponse{Task: t}
	if cs != nil {
		resp.Children = &ChildStats{
			Total:     cs.Total,
			Succeeded: cs.Succeeded,
			Failed:    cs.Failed,
			Cancelled: cs.Cancelled,
			Active:    cs.Active,
		}
	}
	return resp
}

type CancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

type TaskListResponse struct {
	Tasks []*domain.Task `json:"tasks"`
	Count int            `json:"count"`
}

type TrackListResponse struct {
	Tracks []*domain.Track `json:"tracks"`
	Count  int             `json:"count"`
}

type FeaturesResponse struct {
	TrackID int64                `json:"track_id"`
	Global  map[string]float64   `json:"global"`
	Series  map[string][]float64 `json:"series"`
}
