package playlist

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cueprep/cueprep/internal/domain"
)

func testTrack(id int64, camelot string, bpm, energy float64) *domain.Track {
	return &domain.Track{ID: id, Camelot: camelot, BPM: bpm, Energy: energy}
}

func TestPlan_HarmonicOrder(t *testing.T) {
	tracks := []*domain.Track{
		testTrack(1, "8A", 124, 0.2),
		testTrack(2, "3B", 150, 0.9),
		testTrack(3, "9A", 126, 0.4),
		testTrack(4, "8B", 124, 0.3),
	}

	entries, err := Plan(tracks, Options{})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Lowest energy seeds, then the wheel neighbours chain before the
	// harmonic outlier.
	got := []int64{entries[0].Track.ID, entries[1].Track.ID, entries[2].Track.ID, entries[3].Track.ID}
	assert.Equal(t, []int64{1, 4, 3, 2}, got)

	assert.Zero(t, entries[0].Score)
	for _, e := range entries[1:] {
		assert.Greater(t, e.Score, 0.0)
		assert.LessOrEqual(t, e.Score, 100.0)
	}
	// The adjacent-key hop must beat the cross-wheel jump.
	assert.Greater(t, entries[1].Score, entries[3].Score)
}

func TestPlan_SeedTrack(t *testing.T) {
	tracks := []*domain.Track{
		testTrack(1, "8A", 124, 0.2),
		testTrack(2, "9A", 126, 0.6),
	}

	entries, err := Plan(tracks, Options{SeedTrackID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), entries[0].Track.ID)
}

func TestPlan_UnknownSeed(t *testing.T) {
	tracks := []*domain.Track{testTrack(1, "8A", 124, 0.2)}

	_, err := Plan(tracks, Options{SeedTrackID: 42})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPlan_SizeCap(t *testing.T) {
	tracks := []*domain.Track{
		testTrack(1, "8A", 124, 0.2),
		testTrack(2, "8B", 124, 0.3),
		testTrack(3, "9A", 126, 0.4),
	}

	entries, err := Plan(tracks, Options{Size: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPlan_Empty(t *testing.T) {
	entries, err := Plan(nil, Options{})
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestTransitionScore(t *testing.T) {
	a := testTrack(1, "8A", 124, 0.5)

	same := testTrack(2, "8A", 124, 0.5)
	assert.InDelta(t, 100.0, transitionScore(a, same, DefaultBPMTolerance), 1e-9)

	// A tighter tolerance zeroes the tempo component sooner.
	faster := testTrack(3, "8A", 134, 0.5)
	loose := transitionScore(a, faster, 20)
	tight := transitionScore(a, faster, 10)
	assert.Greater(t, loose, tight)
	assert.InDelta(t, 80.0, tight, 1e-9)

	// Unknown keys cost the whole harmonic component.
	unknown := testTrack(4, "", 124, 0.5)
	assert.InDelta(t, 40.0, transitionScore(a, unknown, DefaultBPMTolerance), 1e-9)
}
