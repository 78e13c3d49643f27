package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cueprep/cueprep/internal/domain"
)

// UpsertTrack inserts a track record or, when the path already exists,
// refreshes it in place. The returned id is stable across re-analysis.
func (db *DB) UpsertTrack(track *domain.Track) (int64, error) {
	query := `INSERT INTO tracks (
		path, filename, title, artist, album, genre, year,
		duration, file_size, extension, file_hash,
		bpm, key_name, key_scale, camelot, energy, loudness_db, mood,
		created_at, updated_at
	) VALUES (
		:path, :filename, :title, :artist, :album, :genre, :year,
		:duration, :file_size, :extension, :file_hash,
		:bpm, :key_name, :key_scale, :camelot, :energy, :loudness_db, :mood,
		:created_at, :updated_at
	)
	ON CONFLICT(path) DO UPDATE SET
		filename = excluded.filename,
		title = excluded.title,
		artist = excluded.artist,
		album = excluded.album,
		genre = excluded.genre,
		year = excluded.year,
		duration = excluded.duration,
		file_size = excluded.file_size,
		extension = excluded.extension,
		file_hash = excluded.file_hash,
		bpm = excluded.bpm,
		key_name = excluded.key_name,
		key_scale = excluded.key_scale,
		camelot = excluded.camelot,
		energy = excluded.energy,
		loudness_db = excluded.loudness_db,
		mood = excluded.mood,
		updated_at = excluded.updated_at
	RETURNING id`

	now := time.Now()
	if track.CreatedAt.IsZero() {
		track.CreatedAt = now
	}
	track.UpdatedAt = now

	err := db.withWrite(func(w *sqlx.DB) error {
		rows, err := w.NamedQuery(query, track)
		if err != nil {
			return fmt.Errorf("failed to upsert track: %w", err)
		}
		defer rows.Close() //nolint:errcheck // deferred cleanup

		if rows.Next() {
			if err := rows.Scan(&track.ID); err != nil {
				return fmt.Errorf("failed to scan track id: %w", err)
			}
		} else if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating returning rows: %w", err)
		}
		return nil
	})
	return track.ID, err
}

func (db *DB) GetTrackByID(id int64) (*domain.Track, error) {
	query := `SELECT * FROM tracks WHERE id = ?`

	var track domain.Track
	err := db.read.Get(&track, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: track %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &track, nil
}

func (db *DB) GetTrackByPath(path string) (*domain.Track, error) {
	query := `SELECT * FROM tracks WHERE path = ?`

	var track domain.Track
	err := db.read.Get(&track, query, path)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: track %s", domain.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return &track, nil
}

// TrackFilter narrows ListTracks. Zero values mean "no constraint".
type TrackFilter struct {
	Search  string
	Camelot string
	MinBPM  float64
	MaxBPM  float64
	Limit   int
	Offset  int
}

func (db *DB) ListTracks(f TrackFilter) ([]*domain.Track, error) {
	var conds []string
	var args []interface{}

	if f.Search != "" {
		conds = append(conds, "(title LIKE ? OR artist LIKE ? OR album LIKE ? OR filename LIKE ?)")
		term := "%" + f.Search + "%"
		args = append(args, term, term, term, term)
	}
	if f.Camelot != "" {
		conds = append(conds, "camelot = ?")
		args = append(args, f.Camelot)
	}
	if f.MinBPM > 0 {
		conds = append(conds, "bpm >= ?")
		args = append(args, f.MinBPM)
	}
	if f.MaxBPM > 0 {
		conds = append(conds, "bpm <= ?")
		args = append(args, f.MaxBPM)
	}

	query := `SELECT * FROM tracks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY artist ASC, title ASC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	return selectTracks(db.read, query, args...)
}

// ListAnalyzedTracks returns tracks with usable signal features, the playlist
// planner's candidate pool.
func (db *DB) ListAnalyzedTracks() ([]*domain.Track, error) {
	query := `SELECT * FROM tracks WHERE bpm > 0 AND camelot != '' ORDER BY id ASC`
	return selectTracks(db.read, query)
}

// ListTracksMissingGenre feeds the enrichment pass.
func (db *DB) ListTracksMissingGenre(limit int) ([]*domain.Track, error) {
	query := `SELECT * FROM tracks
		WHERE TRIM(genre) = '' AND TRIM(artist) != '' AND TRIM(title) != ''
		ORDER BY updated_at DESC LIMIT ?`
	return selectTracks(db.read, query, limit)
}

// UpdateTrackPartial applies a column subset update, used by enrichment to
// fill tag gaps without clobbering analysis results.
func (db *DB) UpdateTrackPartial(id int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	allowedColumns := map[string]bool{
		"title":  true,
		"artist": true,
		"album":  true,
		"genre":  true,
		"year":   true,
		"mood":   true,
	}

	setClauses := make([]string, 0, len(updates))
	args := make([]interface{}, 0, len(updates)+2)

	for col, val := range updates {
		if !allowedColumns[col] {
			return fmt.Errorf("invalid column name: %s", col)
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
	}

	args = append(args, time.Now(), id)

	query := fmt.Sprintf("UPDATE tracks SET %s, updated_at = ? WHERE id = ?", strings.Join(setClauses, ", "))

	res, err := db.exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: track %d", domain.ErrNotFound, id)
	}
	return nil
}

// DeleteTrack removes a track; feature rows cascade.
func (db *DB) DeleteTrack(id int64) error {
	res, err := db.exec(`DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: track %d", domain.ErrNotFound, id)
	}
	return nil
}

func (db *DB) CountTracks() (int, error) {
	var count int
	err := db.read.Get(&count, `SELECT COUNT(*) FROM tracks`)
	return count, err
}

func selectTracks(q sqlx.Queryer, query string, args ...interface{}) ([]*domain.Track, error) {
	var tracks []*domain.Track
	err := sqlx.Select(q, &tracks, query, args...)
	return tracks, err
}
