package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cueprep/cueprep/internal/domain"
)

// ReplaceGlobalFeatures swaps the full scalar feature set for a track in one
// transaction so readers never observe a half-written mix.
func (db *DB) ReplaceGlobalFeatures(trackID int64, features map[string]float64) error {
	return db.inTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`DELETE FROM global_features WHERE track_id = ?`, trackID); err != nil {
			return fmt.Errorf("failed to clear global features: %w", err)
		}

		now := time.Now()
		for name, value := range features {
			_, err := tx.Exec(
				`INSERT INTO global_features (track_id, name, value, extracted_at) VALUES (?, ?, ?, ?)`,
				trackID, name, value, now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert global feature %s: %w", name, err)
			}
		}
		return nil
	})
}

// ReplaceSeriesFeatures swaps all stored time-series curves for a track.
func (db *DB) ReplaceSeriesFeatures(trackID int64, series map[string][]float64) error {
	return db.inTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`DELETE FROM time_series_features WHERE track_id = ?`, trackID); err != nil {
			return fmt.Errorf("failed to clear series features: %w", err)
		}

		now := time.Now()
		for name, points := range series {
			_, err := tx.Exec(
				`INSERT INTO time_series_features (track_id, name, points, extracted_at) VALUES (?, ?, ?, ?)`,
				trackID, name, domain.FloatSlice(points), now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert series feature %s: %w", name, err)
			}
		}
		return nil
	})
}

func (db *DB) GetGlobalFeatures(trackID int64) (map[string]float64, error) {
	var rows []domain.GlobalFeature
	err := db.read.Select(&rows, `SELECT * FROM global_features WHERE track_id = ? ORDER BY name ASC`, trackID)
	if err != nil {
		return nil, err
	}

	features := make(map[string]float64, len(rows))
	for _, row := range rows {
		features[row.Name] = row.Value
	}
	return features, nil
}

func (db *DB) GetSeriesFeatures(trackID int64) (map[string][]float64, error) {
	var rows []domain.SeriesFeature
	err := db.read.Select(&rows, `SELECT * FROM time_series_features WHERE track_id = ? ORDER BY name ASC`, trackID)
	if err != nil {
		return nil, err
	}

	series := make(map[string][]float64, len(rows))
	for _, row := range rows {
		series[row.Name] = []float64(row.Points)
	}
	return series, nil
}

func (db *DB) CountGlobalFeatures() (int, error) {
	var count int
	err := db.read.Get(&count, `SELECT COUNT(*) FROM global_features`)
	return count, err
}

func (db *DB) CountSeriesFeatures() (int, error) {
	var count int
	err := db.read.Get(&count, `SELECT COUNT(*) FROM time_series_features`)
	return count, err
}
