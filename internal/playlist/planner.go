// Package playlist orders analyzed tracks into harmonically smooth
// sequences for set preparation.
package playlist

import (
	"fmt"
	"math"

	"github.com/cueprep/cueprep/internal/camelot"
	"github.com/cueprep/cueprep/internal/domain"
)

// DefaultBPMTolerance is the tempo difference that zeroes the BPM component
// of the transition score.
const DefaultBPMTolerance = 20.0

// Options tune the plan. Zero values pick the defaults.
type Options struct {
	SeedTrackID  int64   // 0 opens with the lowest-energy track
	Size         int     // 0 keeps every track
	BPMTolerance float64 // 0 uses DefaultBPMTolerance
}

// Entry is one playlist position. Score rates the transition from the
// previous entry on a 0-100 scale; the seed has no predecessor and stays 0.
type Entry struct {
	Track *domain.Track `json:"track"`
	Score float64       `json:"score"`
}

// Plan chains tracks greedily: at each step the unused track with the best
// transition score from the current one comes next. Tracks without key or
// tempo data sort to the end on their energy fit alone.
func Plan(tracks []*domain.Track, opts Options) ([]Entry, error) {
	if len(tracks) == 0 {
		return nil, nil
	}

	tol := opts.BPMTolerance
	if tol <= 0 {
		tol = DefaultBPMTolerance
	}

	remaining := make([]*domain.Track, len(tracks))
	copy(remaining, tracks)

	seedIdx := -1
	if opts.SeedTrackID > 0 {
		for i, t := range remaining {
			if t.ID == opts.SeedTrackID {
				seedIdx = i
				break
			}
		}
		if seedIdx < 0 {
			return nil, fmt.Errorf("%w: seed track %d", domain.ErrNotFound, opts.SeedTrackID)
		}
	} else {
		seedIdx = 0
		for i, t := range remaining {
			if t.Energy < remaining[seedIdx].Energy {
				seedIdx = i
			}
		}
	}

	size := opts.Size
	if size <= 0 || size > len(tracks) {
		size = len(tracks)
	}

	entries := make([]Entry, 0, size)
	entries = append(entries, Entry{Track: remaining[seedIdx]})
	remaining = append(remaining[:seedIdx], remaining[seedIdx+1:]...)

	for len(entries) < size && len(remaining) > 0 {
		cur := entries[len(entries)-1].Track
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, t := range remaining {
			if s := transitionScore(cur, t, tol); s > bestScore {
				bestScore = s
				bestIdx = i
			}
		}
		entries = append(entries, Entry{
			Track: remaining[bestIdx],
			Score: math.Round(bestScore*10) / 10,
		})
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return entries, nil
}

// transitionScore rates moving from a to b. Camelot proximity is worth 60
// points, tempo fit 20, energy continuity 20.
func transitionScore(a, b *domain.Track, bpmTolerance float64) float64 {
	score := math.Max(0, 60-float64(camelot.Distance(a.Camelot, b.Camelot))*10)

	bpmDiff := math.Abs(a.BPM - b.BPM)
	score += math.Max(0, 20*(1-bpmDiff/bpmTolerance))

	dE := math.Abs(a.Energy - b.Energy)
	if dE > 1 {
		dE = 1
	}
	score += 20 * (1 - dE)
	return score
}
