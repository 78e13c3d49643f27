package store

const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	parent_id TEXT REFERENCES tasks(id) ON DELETE CASCADE,
	path TEXT,
	dirs TEXT,  -- JSON array for batch requests
	progress_done INTEGER NOT NULL DEFAULT 0,
	progress_total INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME
);

-- Prevent duplicate active analysis for the same file. The dedup
-- check-and-insert is atomic because this index rejects the second insert.
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_active_path ON tasks(path)
WHERE status IN ('pending', 'running') AND kind = 'analyze';

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_completed_at ON tasks(completed_at);

CREATE TABLE IF NOT EXISTS tracks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT UNIQUE NOT NULL,
	filename TEXT NOT NULL,

	-- Tag metadata
	title TEXT NOT NULL DEFAULT '',
	artist TEXT NOT NULL DEFAULT '',
	album TEXT NOT NULL DEFAULT '',
	genre TEXT NOT NULL DEFAULT '',
	year INTEGER NOT NULL DEFAULT 0,

	-- File identity
	duration REAL NOT NULL DEFAULT 0,
	file_size INTEGER NOT NULL DEFAULT 0,
	extension TEXT NOT NULL DEFAULT '',
	file_hash TEXT NOT NULL DEFAULT '',

	-- Denormalized analysis results for listing and playlist ordering
	bpm REAL NOT NULL DEFAULT 0,
	key_name TEXT NOT NULL DEFAULT '',
	key_scale TEXT NOT NULL DEFAULT '',
	camelot TEXT NOT NULL DEFAULT '',
	energy REAL NOT NULL DEFAULT 0,
	loudness_db REAL NOT NULL DEFAULT 0,
	mood TEXT NOT NULL DEFAULT '',

	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tracks_camelot ON tracks(camelot);
CREATE INDEX IF NOT EXISTS idx_tracks_bpm ON tracks(bpm);

CREATE TABLE IF NOT EXISTS global_features (
	track_id INTEGER NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	value REAL NOT NULL,
	extracted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(track_id, name)
);

CREATE TABLE IF NOT EXISTS time_series_features (
	track_id INTEGER NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	points TEXT NOT NULL,  -- JSON float array
	extracted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(track_id, name)
);

CREATE TABLE IF NOT EXISTS response_cache (
	key TEXT PRIMARY KEY,
	data BLOB,
	expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO schema_migrations (version, description) VALUES (1, 'initial schema');
`
