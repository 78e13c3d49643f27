package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type TaskKind string

const (
	TaskKindBatch   TaskKind = "batch"
	TaskKindAnalyze TaskKind = "analyze"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusPartial   TaskStatus = "partial"
)

// IsTerminal reports whether the status is final. Terminal tasks never move
// again; every transition is guarded on the prior status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled, TaskStatusPartial:
		return true
	}
	return false
}

type BatchPolicy string

const (
	BatchPolicyPartial  BatchPolicy = "partial"
	BatchPolicyFailFast BatchPolicy = "failfast"
)

func (p BatchPolicy) IsValid() bool {
	return p == BatchPolicyPartial || p == BatchPolicyFailFast
}

// Task represents one unit of requested work: a batch parent or a single-file
// analysis (batch children are analyze tasks with ParentID set).
type Task struct {
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	Error         *string     `json:"error,omitempty" db:"error"`
	ParentID      *string     `json:"parent_id,omitempty" db:"parent_id"`
	ID            string      `json:"id" db:"id"`
	Kind          TaskKind    `json:"kind" db:"kind"`
	Status        TaskStatus  `json:"status" db:"status"`
	Path          string      `json:"path,omitempty" db:"path"`
	Dirs          StringSlice `json:"dirs,omitempty" db:"dirs"`
	ProgressDone  int         `json:"progress_done" db:"progress_done"`
	ProgressTotal int         `json:"progress_total" db:"progress_total"`
}

// Track represents one analyzed audio file. The path is the unique identity;
// re-analysis updates the row in place.
type Track struct { //nolint:govet // field ordering prioritizes readability over memory alignment
	ID         int64     `json:"id" db:"id"`
	Path       string    `json:"path" db:"path"`
	Filename   string    `json:"filename" db:"filename"`
	Title      string    `json:"title" db:"title"`
	Artist     string    `json:"artist" db:"artist"`
	Album      string    `json:"album,omitempty" db:"album"`
	Genre      string    `json:"genre,omitempty" db:"genre"`
	Year       int       `json:"year,omitempty" db:"year"`
	Duration   float64   `json:"duration" db:"duration"`
	FileSize   int64     `json:"file_size" db:"file_size"`
	Extension  string    `json:"extension" db:"extension"`
	FileHash   string    `json:"file_hash,omitempty" db:"file_hash"`
	BPM        float64   `json:"bpm,omitempty" db:"bpm"`
	KeyName    string    `json:"key,omitempty" db:"key_name"`
	KeyScale   string    `json:"key_scale,omitempty" db:"key_scale"`
	Camelot    string    `json:"camelot,omitempty" db:"camelot"`
	Energy     float64   `json:"energy,omitempty" db:"energy"`
	LoudnessDB float64   `json:"loudness_db,omitempty" db:"loudness_db"`
	Mood       string    `json:"mood,omitempty" db:"mood"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// GlobalFeature is one scalar feature value for a track. At most one current
// row exists per (track, name); writes overwrite.
type GlobalFeature struct {
	ExtractedAt time.Time `json:"extracted_at" db:"extracted_at"`
	Name        string    `json:"name" db:"name"`
	Value       float64   `json:"value" db:"value"`
	TrackID     int64     `json:"track_id" db:"track_id"`
}

// SeriesFeature is one time-series feature (beat grid, energy curve) stored
// as a JSON-encoded float array.
type SeriesFeature struct {
	ExtractedAt time.Time  `json:"extracted_at" db:"extracted_at"`
	Name        string     `json:"name" db:"name"`
	Points      FloatSlice `json:"points" db:"points"`
	TrackID     int64      `json:"track_id" db:"track_id"`
}

// LibraryStats is the cache_stats aggregate.
type LibraryStats struct {
	AnalyzedTracks int            `json:"analyzed_tracks"`
	TotalFiles     int            `json:"total_files"`
	GlobalFeatures int            `json:"global_features"`
	SeriesFeatures int            `json:"series_features"`
	Tasks          map[string]int `json:"tasks"`
	DBSizeBytes    int64          `json:"db_size_bytes"`
}

// StringSlice stores a []string as JSON in a TEXT column.
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	data, ok := scanBytes(value)
	if !ok || len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, s)
}

// FloatSlice stores a []float64 as JSON in a TEXT column.
type FloatSlice []float64

func (f FloatSlice) Value() (driver.Value, error) {
	if len(f) == 0 {
		return "[]", nil
	}
	return json.Marshal(f)
}

func (f *FloatSlice) Scan(value interface{}) error {
	data, ok := scanBytes(value)
	if !ok || len(data) == 0 || string(data) == "null" {
		*f = nil
		return nil
	}
	return json.Unmarshal(data, f)
}

func scanBytes(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	}
	return nil, false
}
