package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cueprep/cueprep/internal/constants"
	"github.com/cueprep/cueprep/internal/domain"
)

const taskColumns = `id, kind, status, parent_id, path, dirs, progress_done, progress_total, error, created_at, started_at, completed_at`

// CreateTask inserts a task row. For analyze tasks the partial unique index
// on active paths turns a duplicate into a silent no-op; the bool reports
// whether the row was actually inserted.
func (db *DB) CreateTask(task *domain.Task) (bool, error) {
	query := `INSERT OR IGNORE INTO tasks (id, kind, status, parent_id, path, dirs, progress_done, progress_total, created_at)
		VALUES (:id, :kind, :status, :parent_id, :path, :dirs, :progress_done, :progress_total, :created_at)`

	res, err := db.namedExec(query, task)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *DB) GetTask(id string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task := &domain.Task{}
	err := db.read.Get(task, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetActiveTaskByPath returns the pending/running analyze task for a path,
// or (nil, nil) when none exists.
func (db *DB) GetActiveTaskByPath(path string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE path = ? AND kind = 'analyze' AND status IN ('pending', 'running')
		LIMIT 1`

	task := &domain.Task{}
	err := db.read.Get(task, query, path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// TransitionTask moves a task from one of the expected statuses to a new one.
// The guard makes transitions monotonic: a terminal row matches no expected
// status, so the update affects zero rows and the bool reports false.
func (db *DB) TransitionTask(id string, from []domain.TaskStatus, to domain.TaskStatus, detail *string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition for task %s: no expected statuses", id)
	}

	placeholders := make([]string, len(from))
	args := make([]interface{}, 0, len(from)+3)
	args = append(args, to)

	var stampCol string
	switch {
	case to == domain.TaskStatusRunning:
		stampCol = "started_at = ?"
		args = append(args, time.Now())
	case to.IsTerminal():
		stampCol = "completed_at = ?"
		args = append(args, time.Now())
	default:
		stampCol = "started_at = started_at"
	}

	args = append(args, detail)
	args = append(args, id)
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, s)
	}

	query := fmt.Sprintf(
		`UPDATE tasks SET status = ?, %s, error = COALESCE(?, error) WHERE id = ? AND status IN (%s)`,
		stampCol, strings.Join(placeholders, ", "))

	res, err := db.exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *DB) ListActiveTasks() ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status IN ('pending', 'running') ORDER BY created_at ASC`
	return selectTasks(db.read, query)
}

func (db *DB) ListFinishedTasks(limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ('succeeded', 'failed', 'cancelled', 'partial')
		ORDER BY completed_at DESC LIMIT ?`
	return selectTasks(db.read, query, limit)
}

// ListPendingAnalyzeTasks returns the oldest pending single-file tasks, used
// by the refill tick to top up the worker queue.
func (db *DB) ListPendingAnalyzeTasks(limit int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND kind = 'analyze'
		ORDER BY created_at ASC LIMIT ?`
	return selectTasks(db.read, query, limit)
}

// ListStaleRunningTasks returns analyze tasks that started before the cutoff
// and are still marked running; the watchdog fails them.
func (db *DB) ListStaleRunningTasks(cutoff time.Time) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'running' AND kind = 'analyze' AND started_at IS NOT NULL AND started_at < ?`
	return selectTasks(db.read, query, cutoff)
}

func (db *DB) ListChildTasks(parentID string) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE parent_id = ? ORDER BY created_at ASC`
	return selectTasks(db.read, query, parentID)
}

// ChildStats aggregates one batch's children by outcome.
type ChildStats struct {
	Total     int `db:"total"`
	Succeeded int `db:"succeeded"`
	Failed    int `db:"failed"`
	Cancelled int `db:"cancelled"`
	Active    int `db:"active"`
}

func (db *DB) GetChildStats(parentID string) (*ChildStats, error) {
	// COALESCE keeps the aggregates scannable for a batch with no children,
	// where SUM over zero rows is NULL.
	query := `SELECT
		COUNT(*) as total,
		COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0) as succeeded,
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) as failed,
		COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) as cancelled,
		COALESCE(SUM(CASE WHEN status IN ('pending', 'running') THEN 1 ELSE 0 END), 0) as active
	FROM tasks WHERE parent_id = ?`

	stats := &ChildStats{}
	err := db.read.Get(stats, query, parentID)
	return stats, err
}

// IncrementTaskProgress bumps a batch parent's done counter after a child
// reaches a terminal state.
func (db *DB) IncrementTaskProgress(id string) error {
	_, err := db.exec(`UPDATE tasks SET progress_done = progress_done + 1 WHERE id = ?`, id)
	return err
}

// SetTaskTotal rewrites a batch parent's progress_total after duplicate
// children were suppressed at creation time.
func (db *DB) SetTaskTotal(id string, total int) error {
	_, err := db.exec(`UPDATE tasks SET progress_total = ? WHERE id = ?`, total, id)
	return err
}

// CancelPendingChildren cancels every still-pending child of a batch parent
// and credits them to the parent's done counter in the same transaction. No
// worker ever reports for a cancelled-while-pending child, so without the
// credit a finished parent would show done short of total.
func (db *DB) CancelPendingChildren(parentID string, detail string) (int64, error) {
	var n int64
	err := db.inTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(
			`UPDATE tasks SET status = ?, error = ?, completed_at = ? WHERE parent_id = ? AND status = 'pending'`,
			domain.TaskStatusCancelled, detail, time.Now(), parentID)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		_, err = tx.Exec(`UPDATE tasks SET progress_done = progress_done + ? WHERE id = ?`, n, parentID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteTask removes a task row outright. Used only to roll back a task whose
// id was never returned to a caller (pool rejected the submission).
func (db *DB) DeleteTask(id string) error {
	_, err := db.exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// ResetStuckTasks moves running tasks back to pending after an unclean
// shutdown so the refill tick can pick them up again.
func (db *DB) ResetStuckTasks() (int64, error) {
	res, err := db.exec(`UPDATE tasks SET status = ?, started_at = NULL WHERE status = 'running'`,
		domain.TaskStatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EvictFinishedTasks applies the retention policy: succeeded/cancelled/partial
// rows older than RetainSucceededFor, failed rows older than RetainFailedFor,
// and any terminal rows beyond the MaxFinishedTasks count cap (oldest first).
func (db *DB) EvictFinishedTasks(now time.Time) (int64, error) {
	var total int64
	err := db.inTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(
			`DELETE FROM tasks WHERE status IN ('succeeded', 'cancelled', 'partial') AND completed_at < ?`,
			now.Add(-constants.RetainSucceededFor))
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		total += n

		res, err = tx.Exec(
			`DELETE FROM tasks WHERE status = 'failed' AND completed_at < ?`,
			now.Add(-constants.RetainFailedFor))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += n

		res, err = tx.Exec(
			`DELETE FROM tasks WHERE id IN (
				SELECT id FROM tasks
				WHERE status IN ('succeeded', 'failed', 'cancelled', 'partial')
				ORDER BY completed_at DESC LIMIT -1 OFFSET ?
			)`, constants.MaxFinishedTasks)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += n
		return nil
	})
	return total, err
}

func (db *DB) GetTaskStats() (map[string]int, error) {
	rows, err := db.read.Queryx(`SELECT status, COUNT(*) as count FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // deferred cleanup

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func selectTasks(q sqlx.Queryer, query string, args ...interface{}) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := sqlx.Select(q, &tasks, query, args...)
	return tasks, err
}
