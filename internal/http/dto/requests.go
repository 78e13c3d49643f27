package dto

// StartAnalysisRequest is the body of POST /api/analysis/start.
type StartAnalysisRequest struct {
	Directories []string `json:"directories"`
	MaxFiles    *int     `json:"max_files"`
}

// Cap returns the enumeration cap, negative when the field was absent.
func (r *StartAnalysisRequest) Cap() int {
	if r.MaxFiles == nil {
		return -1
	}
	return *r.MaxFiles
}

// AnalyzeSingleRequest is the body of POST /api/analyze/single.
type AnalyzeSingleRequest struct {
	FilePath string `json:"file_path"`
}

// PlaylistRequest is the body of POST /api/playlist. Zero values fall back
// to the planner defaults.
type PlaylistRequest struct {
	SeedTrackID  int64   `json:"seed_track_id"`
	Size         int     `json:"size"`
	BPMTolerance float64 `json:"bpm_tolerance"`
}

// TrackUpdateRequest is the body of PUT /api/tracks/{trackID}. Nil fields
// are left untouched; the editable set matches the store's partial update.
type TrackUpdateRequest struct {
	Title  *string `json:"title"`
	Artist *string `json:"artist"`
	Album  *string `json:"album"`
	Genre  *string `json:"genre"`
	Year   *int    `json:"year"`
	Mood   *string `json:"mood"`
}

func (r *TrackUpdateRequest) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateYear(r.Year)...)
	return errs
}
