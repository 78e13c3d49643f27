package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/cueprep/cueprep/internal/constants"
	"github.com/cueprep/cueprep/internal/domain"
)

// DB wraps two sqlx handles over the same SQLite file: a write handle capped
// at one connection (SQLite permits a single writer; funneling every mutation
// through one connection plus a mutex removes writer-vs-writer contention at
// the source) and a read handle that may fan out, since WAL readers do not
// block on the writer.
type DB struct {
	read  *sqlx.DB
	write *sqlx.DB
	mu    sync.Mutex
}

func NewSQLiteDB(dsn string) (*DB, error) {
	write, err := openHandle(dsn)
	if err != nil {
		return nil, err
	}
	write.SetMaxOpenConns(1)

	read, err := openHandle(dsn)
	if err != nil {
		write.Close()
		return nil, err
	}

	// Apply schema through the writer.
	if _, err := write.Exec(Schema); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{read: read, write: write}, nil
}

func openHandle(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Set pragmas for better concurrency. WAL is persistent in the file;
	// busy_timeout and foreign_keys are per-connection.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	werr := db.write.Close()
	rerr := db.read.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// withWrite serializes a mutating operation and retries transient BUSY/LOCKED
// errors with exponential backoff. Budget exhaustion surfaces ErrStoreBusy.
func (db *DB) withWrite(fn func(w *sqlx.DB) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	backoff := constants.WriteRetryBase
	var err error
	for attempt := 0; attempt < constants.WriteRetryCount; attempt++ {
		err = fn(db.write)
		if err == nil || !isBusyErr(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreBusy, err)
}

// exec runs a single mutating statement through the write path.
func (db *DB) exec(query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := db.withWrite(func(w *sqlx.DB) error {
		var execErr error
		res, execErr = w.Exec(query, args...)
		return execErr
	})
	return res, err
}

// namedExec runs a single named mutating statement through the write path.
func (db *DB) namedExec(query string, arg interface{}) (sql.Result, error) {
	var res sql.Result
	err := db.withWrite(func(w *sqlx.DB) error {
		var execErr error
		res, execErr = w.NamedExec(query, arg)
		return execErr
	})
	return res, err
}

// inTx runs fn inside one write transaction. The whole transaction is the
// retry unit: on BUSY the completed statements are rolled back and replayed.
func (db *DB) inTx(fn func(tx *sqlx.Tx) error) error {
	return db.withWrite(func(w *sqlx.DB) error {
		tx, err := w.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // no-op after commit

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
