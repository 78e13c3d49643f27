// Package analysis runs the per-file audio analysis pipeline: content
// hashing, embedded tag reading, and signal analysis (tempo, key, energy)
// over PCM decoded by an ffmpeg subprocess.
package analysis

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cueprep/cueprep/internal/camelot"
	"github.com/cueprep/cueprep/internal/constants"
	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/logger"
)

// hashChunk is how much of the head and tail of a file contributes to its
// content hash, alongside the size.
const hashChunk = int64(1024 * 1024)

// Engine analyzes one audio file at a time. When the ffmpeg binary cannot be
// found, signal analysis is skipped and results degrade to tag-derived
// fields; a present binary that fails on a file is an analysis failure.
type Engine struct {
	FFmpegPath string
	SampleRate int
	MaxSeconds int

	log *logger.Logger
}

// NewEngine builds an engine with the default decode parameters. FFMPEG_PATH
// overrides the binary looked up on PATH.
func NewEngine(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	path := os.Getenv("FFMPEG_PATH")
	if path == "" {
		path = "ffmpeg"
	}
	return &Engine{
		FFmpegPath: path,
		SampleRate: constants.AnalysisSampleRate,
		MaxSeconds: constants.MaxAnalysisSeconds,
		log:        log.WithComponent("analysis"),
	}
}

// Analyze runs the full pipeline on path. Context cancellation kills the
// decoder and returns the context error so callers can tell timeouts from
// analysis failures.
func (e *Engine) Analyze(ctx context.Context, path string) (*domain.Analysis, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAnalysisFailed, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrAnalysisFailed, path)
	}

	hash, err := contentHash(path, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: hash: %v", domain.ErrAnalysisFailed, err)
	}

	a := &domain.Analysis{
		Path:       path,
		Filename:   filepath.Base(path),
		Extension:  strings.ToLower(filepath.Ext(path)),
		FileSize:   info.Size(),
		FileHash:   hash,
		Global:     make(map[string]float64),
		Series:     make(map[string][]float64),
		AnalyzedAt: time.Now().UTC(),
	}

	tags, _, tagErr := readTags(path)
	if tagErr != nil {
		e.log.Warn("tag read failed", "path", path, "error", tagErr)
	}
	applyTags(a, tags)

	if _, lookErr := exec.LookPath(e.FFmpegPath); lookErr != nil {
		e.log.Warn("ffmpeg not found, keeping tag-derived fields only", "path", path)
		e.applyTagFallback(a, tags)
		return a, nil
	}

	samples, err := e.decodePCM(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrAnalysisFailed, err)
	}

	e.analyzeSignal(a, tags, samples)
	return a, nil
}

// Artwork returns the embedded cover image of the file at path, or
// ErrNotFound when the file carries none.
func (e *Engine) Artwork(path string) (*Artwork, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	_, art, err := readTags(path)
	if err != nil {
		return nil, fmt.Errorf("read artwork: %w", err)
	}
	if art == nil || len(art.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedded artwork in %s", domain.ErrNotFound, filepath.Base(path))
	}
	if art.MIME == "" {
		art.MIME = http.DetectContentType(art.Data)
	}
	return art, nil
}

// decodePCM shells out to ffmpeg for mono float32 PCM at the engine sample
// rate, capped at MaxSeconds of audio.
func (e *Engine) decodePCM(ctx context.Context, path string) ([]float32, error) {
	args := []string{"-v", "error", "-i", path}
	if e.MaxSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(e.MaxSeconds))
	}
	args = append(args,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(e.SampleRate),
		"-",
	)

	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg: %s", msg)
	}

	raw := stdout.Bytes()
	n := len(raw) / 4
	if n == 0 {
		return nil, fmt.Errorf("no audio decoded from %s", filepath.Base(path))
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

// analyzeSignal fills the signal-derived fields and feature maps. Computed
// tempo and key win over tag values; tags only fill in when the signal gave
// nothing.
func (e *Engine) analyzeSignal(a *domain.Analysis, tags tagInfo, samples []float32) {
	sr := e.SampleRate
	decoded := float64(len(samples)) / float64(sr)
	a.Duration = round2(decoded)
	if tags.Duration > 0 {
		// StreamInfo knows the real length even when the decode was capped.
		a.Duration = round2(tags.Duration)
	}

	onset := onsetEnvelope(samples, onsetFrameSize, constants.AnalysisHopSize)
	a.BPM = estimateBPM(onset, sr, constants.AnalysisHopSize)
	beats := beatTimes(onset, sr, decoded, a.BPM, constants.AnalysisHopSize)
	energies := beatEnergies(samples, sr, beats)

	note, scale, strength := detectKey(samples, sr)
	if note == "" {
		note, scale = keyFromTag(tags.Key)
	}
	a.KeyName = note
	a.KeyScale = scale
	a.Camelot = camelot.FromKey(note, scale)

	a.Energy = round3(mean(energies))
	a.LoudnessDB = math.Round(loudnessDB(samples)*10) / 10
	a.Mood = moodFor(a.BPM, a.Energy, a.KeyScale)

	a.Global["bpm"] = a.BPM
	a.Global["energy"] = a.Energy
	a.Global["loudness_db"] = a.LoudnessDB
	a.Global["duration"] = a.Duration
	a.Global["beat_count"] = float64(len(beats))
	if strength > 0 {
		a.Global["key_strength"] = round3(strength)
	}
	a.Series["beat_times"] = beats
	a.Series["beat_energy"] = energies
}

// applyTagFallback fills what it can from tags when signal analysis was
// skipped.
func (e *Engine) applyTagFallback(a *domain.Analysis, tags tagInfo) {
	a.BPM = tags.BPM
	if note, scale := keyFromTag(tags.Key); note != "" {
		a.KeyName = note
		a.KeyScale = scale
		a.Camelot = camelot.FromKey(note, scale)
	}
	if tags.Duration > 0 {
		a.Duration = round2(tags.Duration)
	}
	if a.BPM > 0 {
		a.Global["bpm"] = a.BPM
	}
	if a.Duration > 0 {
		a.Global["duration"] = a.Duration
	}
}

// applyTags copies tag metadata onto the result. A missing title falls back
// to the filename, splitting "Artist - Title" when the artist is also absent.
func applyTags(a *domain.Analysis, tags tagInfo) {
	a.Title = tags.Title
	a.Artist = tags.Artist
	a.Album = tags.Album
	a.Genre = tags.Genre
	a.Year = tags.Year

	if a.Title == "" {
		base := strings.TrimSuffix(a.Filename, filepath.Ext(a.Filename))
		base = strings.ReplaceAll(base, "_", " ")
		if artist, title, ok := strings.Cut(base, " - "); ok && a.Artist == "" {
			a.Artist = strings.TrimSpace(artist)
			a.Title = strings.TrimSpace(title)
		} else {
			a.Title = strings.TrimSpace(base)
		}
	}
}

// keyFromTag parses DJ-software key tags like "Am", "F#", "Eb minor" into a
// note and scale. Unparseable input comes back as a major key of itself;
// FromKey rejects it downstream when the note is not real.
func keyFromTag(raw string) (string, string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ""
	}
	lower := strings.ToLower(s)
	for _, suf := range []string{"minor", "min"} {
		if strings.HasSuffix(lower, suf) {
			if note := strings.TrimSpace(s[:len(s)-len(suf)]); note != "" {
				return note, "minor"
			}
		}
	}
	for _, suf := range []string{"major", "maj"} {
		if strings.HasSuffix(lower, suf) {
			if note := strings.TrimSpace(s[:len(s)-len(suf)]); note != "" {
				return note, "major"
			}
		}
	}
	if strings.HasSuffix(s, "m") && len(s) > 1 {
		return strings.TrimSpace(s[:len(s)-1]), "minor"
	}
	return s, "major"
}

// moodFor derives a coarse mood label from tempo, energy and scale.
func moodFor(bpm, energy float64, scale string) string {
	switch {
	case bpm >= 125 && energy >= 0.6:
		return "energetic"
	case scale == "minor" && energy > 0 && energy < 0.4:
		return "melancholic"
	case bpm > 0 && bpm < 100 && energy < 0.5:
		return "chill"
	case scale == "major" && energy >= 0.5:
		return "uplifting"
	default:
		return "neutral"
	}
}

// contentHash digests the file size plus the first and last megabyte of
// content. Renames keep the hash; tag edits change it.
func contentHash(path string, size int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	fmt.Fprintf(h, "%d", size)

	buf := make([]byte, hashChunk)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	h.Write(buf[:n])

	if size > hashChunk {
		if _, err := f.Seek(-hashChunk, io.SeekEnd); err != nil {
			return "", err
		}
		n, err = f.Read(buf)
		if err != nil && err != io.EOF {
			return "", err
		}
		h.Write(buf[:n])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
