package store

import (
	"database/sql"
	"time"
)

// GetCache returns the cached payload for key, or nil when absent. Expired
// entries are dropped on read.
func (db *DB) GetCache(key string) ([]byte, error) {
	type cacheRow struct {
		ExpiresAt sql.NullTime `db:"expires_at"`
		Data      []byte       `db:"data"`
	}

	var row cacheRow
	err := db.read.Get(&row, "SELECT data, expires_at FROM response_cache WHERE key = ?", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if row.ExpiresAt.Valid && time.Now().After(row.ExpiresAt.Time) {
		_, _ = db.exec("DELETE FROM response_cache WHERE key = ?", key)
		return nil, nil
	}

	return row.Data, nil
}

func (db *DB) SetCache(key string, data []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := db.exec(`
		INSERT INTO response_cache (key, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at
	`, key, data, expiresAt)
	return err
}

// PurgeExpiredCache drops stale entries, run from the maintenance sweep.
func (db *DB) PurgeExpiredCache() (int64, error) {
	res, err := db.exec("DELETE FROM response_cache WHERE expires_at IS NOT NULL AND expires_at < ?", time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) ClearCache() error {
	_, err := db.exec("DELETE FROM response_cache")
	return err
}
