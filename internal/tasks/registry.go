// Package tasks owns the task lifecycle: creation with duplicate
// suppression, guarded status transitions, cancellation, and recovery
// after an unclean shutdown.
package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/logger"
	"github.com/cueprep/cueprep/internal/store"
)

type Registry struct {
	Repo   *store.DB
	Logger *logger.Logger
}

func NewRegistry(repo *store.DB, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{Repo: repo, Logger: log.WithComponent("tasks")}
}

// CreateAnalyzeTask admits one analysis task per active path. The insert
// itself is the duplicate check: the partial unique index swallows a second
// insert for an active path, and the existing holder is returned with
// created=false. The retry loop closes the window where the holder finishes
// between the insert attempt and the lookup.
func (r *Registry) CreateAnalyzeTask(path string, parentID *string) (*domain.Task, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		task := &domain.Task{
			ID:        uuid.New().String(),
			Kind:      domain.TaskKindAnalyze,
			Status:    domain.TaskStatusPending,
			Path:      path,
			ParentID:  parentID,
			CreatedAt: time.Now(),
		}

		created, err := r.Repo.CreateTask(task)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create task: %w", err)
		}
		if created {
			r.Logger.Info("Task created", "task_id", task.ID, "path", path)
			return task, true, nil
		}

		existing, err := r.Repo.GetActiveTaskByPath(path)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			r.Logger.Info("Task already active for path", "task_id", existing.ID, "path", path)
			return existing, false, nil
		}
	}
	return nil, false, fmt.Errorf("failed to create task for %s", path)
}

// CreateBatchTask inserts a batch parent in pending state; the caller claims
// it once enumeration is done.
func (r *Registry) CreateBatchTask(dirs []string, total int) (*domain.Task, error) {
	task := &domain.Task{
		ID:            uuid.New().String(),
		Kind:          domain.TaskKindBatch,
		Status:        domain.TaskStatusPending,
		Dirs:          dirs,
		ProgressTotal: total,
		CreatedAt:     time.Now(),
	}

	if _, err := r.Repo.CreateTask(task); err != nil {
		return nil, fmt.Errorf("failed to create batch task: %w", err)
	}
	r.Logger.Info("Batch task created", "task_id", task.ID, "dirs", len(dirs), "total", total)
	return task, nil
}

func (r *Registry) Get(id string) (*domain.Task, error) {
	return r.Repo.GetTask(id)
}

func (r *Registry) ListActive() ([]*domain.Task, error) {
	return r.Repo.ListActiveTasks()
}

func (r *Registry) ListFinished(limit int) ([]*domain.Task, error) {
	return r.Repo.ListFinishedTasks(limit)
}

func (r *Registry) ListChildren(parentID string) ([]*domain.Task, error) {
	return r.Repo.ListChildTasks(parentID)
}

// Claim moves a pending task to running. A false return means the task was
// cancelled or otherwise moved on; the caller must not run it.
func (r *Registry) Claim(id string) (bool, error) {
	return r.Repo.TransitionTask(id,
		[]domain.TaskStatus{domain.TaskStatusPending}, domain.TaskStatusRunning, nil)
}

// Complete moves a running task to succeeded. A false return means the task
// is no longer running (timed out or cancelled); the caller must discard the
// result instead of persisting it.
func (r *Registry) Complete(id string) (bool, error) {
	return r.Repo.TransitionTask(id,
		[]domain.TaskStatus{domain.TaskStatusRunning}, domain.TaskStatusSucceeded, nil)
}

// Fail moves an active task to failed with a reason.
func (r *Registry) Fail(id string, detail string) (bool, error) {
	return r.Repo.TransitionTask(id,
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusRunning},
		domain.TaskStatusFailed, &detail)
}

// FailRunning is the watchdog's transition: only a still-running task can be
// timed out.
func (r *Registry) FailRunning(id string, detail string) (bool, error) {
	return r.Repo.TransitionTask(id,
		[]domain.TaskStatus{domain.TaskStatusRunning}, domain.TaskStatusFailed, &detail)
}

// Finalize moves a running batch parent to its terminal outcome.
func (r *Registry) Finalize(id string, to domain.TaskStatus, detail *string) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("finalize target %s is not terminal", to)
	}
	return r.Repo.TransitionTask(id,
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusRunning}, to, detail)
}

// Cancel marks a task cancelled, best effort. Pending tasks never run;
// a running task keeps its worker but the completion write is rejected by
// the status guard, so its result is discarded. Cancelling a batch parent
// also cancels every still-pending child. Returns false when the task was
// already terminal.
func (r *Registry) Cancel(id string) (bool, error) {
	task, err := r.Repo.GetTask(id)
	if err != nil {
		return false, err
	}
	if task.Status.IsTerminal() {
		return false, nil
	}

	detail := "cancelled by request"
	changed, err := r.Repo.TransitionTask(id,
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusRunning},
		domain.TaskStatusCancelled, &detail)
	if err != nil {
		return false, err
	}

	if task.Kind == domain.TaskKindBatch {
		n, cancelErr := r.Repo.CancelPendingChildren(id, "parent batch cancelled")
		if cancelErr != nil {
			r.Logger.Error("Failed to cancel pending children", "task_id", id, "error", cancelErr)
		} else if n > 0 {
			r.Logger.Info("Cancelled pending children", "task_id", id, "count", n)
		}
	}

	if changed {
		r.Logger.Info("Task cancelled", "task_id", id, "kind", task.Kind)
	}
	return changed, nil
}

// Discard removes a task row whose id was never handed to a caller, used to
// roll back admission when the pool rejects the job.
func (r *Registry) Discard(id string) error {
	return r.Repo.DeleteTask(id)
}

// Recover resets tasks left running by an unclean shutdown back to pending.
func (r *Registry) Recover() error {
	n, err := r.Repo.ResetStuckTasks()
	if err != nil {
		return fmt.Errorf("failed to reset stuck tasks: %w", err)
	}
	if n > 0 {
		r.Logger.Info("Reset stuck tasks", "count", n)
	}
	return nil
}
