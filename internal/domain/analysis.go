package domain

import "time"

// Analysis is the full result of analyzing one audio file: identity and tag
// metadata plus the extracted feature maps. Global holds scalar features,
// Series holds time-series features (JSON float arrays in the store).
type Analysis struct {
	Path       string
	Filename   string
	Extension  string
	FileSize   int64
	FileHash   string
	Title      string
	Artist     string
	Album      string
	Genre      string
	Year       int
	Duration   float64
	BPM        float64
	KeyName    string
	KeyScale   string
	Camelot    string
	Energy     float64
	LoudnessDB float64
	Mood       string
	Global     map[string]float64
	Series     map[string][]float64
	AnalyzedAt time.Time
}

// Track maps the analysis onto a Track record for upsert.
func (a *Analysis) Track() *Track {
	return &Track{
		Path:       a.Path,
		Filename:   a.Filename,
		Title:      a.Title,
		Artist:     a.Artist,
		Album:      a.Album,
		Genre:      a.Genre,
		Year:       a.Year,
		Duration:   a.Duration,
		FileSize:   a.FileSize,
		Extension:  a.Extension,
		FileHash:   a.FileHash,
		BPM:        a.BPM,
		KeyName:    a.KeyName,
		KeyScale:   a.KeyScale,
		Camelot:    a.Camelot,
		Energy:     a.Energy,
		LoudnessDB: a.LoudnessDB,
		Mood:       a.Mood,
	}
}
