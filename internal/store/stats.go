package store

import (
	"fmt"

	"github.com/cueprep/cueprep/internal/domain"
)

// GetLibraryStats assembles the cache/stats snapshot from the live tables.
func (db *DB) GetLibraryStats() (*domain.LibraryStats, error) {
	stats := &domain.LibraryStats{}

	queries := []struct {
		dest  *int
		query string
	}{
		{&stats.TotalFiles, `SELECT COUNT(*) FROM tracks`},
		{&stats.AnalyzedTracks, `SELECT COUNT(*) FROM tracks WHERE bpm > 0 AND camelot != ''`},
		{&stats.GlobalFeatures, `SELECT COUNT(*) FROM global_features`},
		{&stats.SeriesFeatures, `SELECT COUNT(*) FROM time_series_features`},
	}
	for _, q := range queries {
		if err := db.read.Get(q.dest, q.query); err != nil {
			return nil, fmt.Errorf("failed to collect library stats: %w", err)
		}
	}

	tasks, err := db.GetTaskStats()
	if err != nil {
		return nil, err
	}
	stats.Tasks = tasks

	var pageCount, pageSize int64
	if err := db.read.Get(&pageCount, `PRAGMA page_count`); err != nil {
		return nil, err
	}
	if err := db.read.Get(&pageSize, `PRAGMA page_size`); err != nil {
		return nil, err
	}
	stats.DBSizeBytes = pageCount * pageSize

	return stats, nil
}
