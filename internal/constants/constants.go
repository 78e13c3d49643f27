// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort          = "8791"
	DefaultDBPath        = "cueprep.db"
	DefaultWorkers       = 3
	DefaultQueueDepth    = 256
	DefaultTaskTimeout   = 10 * time.Minute
	DefaultTickInterval  = 2 * time.Second
	DefaultSweepInterval = 10 * time.Minute
	DefaultBatchPolicy   = "partial"
	DefaultCacheTTL      = 12 * time.Hour
	DefaultArtworkTTL    = 30 * time.Minute
)

// Store write retry budget for transient SQLITE_BUSY contention.
const (
	WriteRetryCount = 5
	WriteRetryBase  = 100 * time.Millisecond
)

// Task retention bounds
const (
	RetainSucceededFor = 7 * 24 * time.Hour
	RetainFailedFor    = 30 * 24 * time.Hour
	MaxFinishedTasks   = 5000
)

// Audio decode parameters for signal analysis
const (
	AnalysisSampleRate = 22050
	AnalysisWindowSize = 2048
	AnalysisHopSize    = 512
	MaxAnalysisSeconds = 240
)

// BPM detection range
const (
	MinBPM = 60.0
	MaxBPM = 200.0
)

// File Extensions
const (
	ExtMP3  = ".mp3"
	ExtFLAC = ".flac"
	ExtWAV  = ".wav"
	ExtM4A  = ".m4a"
	ExtOGG  = ".ogg"
	ExtAIFF = ".aiff"
)

// DirPermissions applies to directories created for the database path.
const DirPermissions = 0755

// Listing limits
const (
	MaxListLimit     = 500
	DefaultListLimit = 100
	MaxFinishedList  = 200
)
