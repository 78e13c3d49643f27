package domain

import "errors"

// Error taxonomy surfaced by the coordinator and its collaborators. Callers
// match with errors.Is; wrap with fmt.Errorf("%w: ...") to attach detail.
var (
	// ErrNotFound marks an unknown task or track id/path.
	ErrNotFound = errors.New("not found")

	// ErrStoreBusy is returned after the store's write retry budget is
	// exhausted on SQLITE_BUSY contention.
	ErrStoreBusy = errors.New("store busy")

	// ErrAnalysisFailed wraps analyzer failures for a single file.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrTimeout marks a task that exceeded its wall-clock budget.
	ErrTimeout = errors.New("task timed out")

	// ErrBusy is returned when the worker pool queue is saturated.
	ErrBusy = errors.New("worker queue full")

	// ErrValidation marks a malformed request.
	ErrValidation = errors.New("validation error")
)
