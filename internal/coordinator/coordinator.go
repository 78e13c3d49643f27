// Package coordinator fronts the analysis pipeline: batch and single-file
// submission, status aggregation, cancellation, and stats, plus the
// maintenance loop that times out stale tasks, refills the worker queue, and
// applies the retention sweep.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cueprep/cueprep/internal/analysis"
	"github.com/cueprep/cueprep/internal/config"
	"github.com/cueprep/cueprep/internal/constants"
	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/enrich"
	"github.com/cueprep/cueprep/internal/library"
	"github.com/cueprep/cueprep/internal/logger"
	"github.com/cueprep/cueprep/internal/pool"
	"github.com/cueprep/cueprep/internal/store"
	"github.com/cueprep/cueprep/internal/tasks"
)

const enrichSweepLimit = 10

// AnalysisEngine is the slice of the analyzer the coordinator drives.
type AnalysisEngine interface {
	Analyze(ctx context.Context, path string) (*domain.Analysis, error)
	Artwork(path string) (*analysis.Artwork, error)
}

// StatusView is one task's externally visible state. Children is set for
// batch parents only.
type StatusView struct {
	Task     *domain.Task
	Children *store.ChildStats
}

type Coordinator struct {
	cfg      *config.Config
	db       *store.DB
	registry *tasks.Registry
	engine   AnalysisEngine
	enricher *enrich.Enricher
	pool     *pool.Pool
	watcher  *library.Watcher
	log      *logger.Logger

	tickInterval  time.Duration
	sweepInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, db *store.DB, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		cfg:           cfg,
		db:            db,
		registry:      tasks.NewRegistry(db, log),
		engine:        analysis.NewEngine(log),
		log:           log.WithComponent("coordinator"),
		tickInterval:  constants.DefaultTickInterval,
		sweepInterval: constants.DefaultSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	if cfg.Enrichment.Enabled {
		c.enricher = enrich.New(cfg.Enrichment, db, log)
	}
	c.pool = pool.New(cfg.Workers, cfg.QueueDepth, c.runTask, log)
	return c
}

// Start recovers tasks left over from an unclean shutdown, launches the
// worker pool and maintenance loop, and, when configured, the library
// watcher.
func (c *Coordinator) Start() error {
	if err := c.registry.Recover(); err != nil {
		return err
	}

	c.pool.Start()
	c.recoverBatches()

	if c.cfg.WatchLibrary && len(c.cfg.LibraryDirs) > 0 {
		c.startWatcher()
	}

	c.wg.Add(1)
	go c.loop()

	c.log.Info("Coordinator started",
		"workers", c.cfg.Workers,
		"queue_depth", c.cfg.QueueDepth,
		"batch_policy", c.cfg.BatchPolicy)
	return nil
}

func (c *Coordinator) Stop() {
	c.log.Info("Stopping coordinator")
	if c.watcher != nil {
		if err := c.watcher.Stop(); err != nil {
			c.log.Warn("Watcher stop failed", "error", err)
		}
	}
	c.cancel()
	c.pool.Stop()
	c.wg.Wait()
	if c.enricher != nil {
		c.enricher.Close()
	}
}

// StartBatch enumerates audio files under dirs, creates a batch parent plus
// one child task per file, and queues the children. maxFiles caps the
// enumeration, negative means no cap; zero files is not an error, the parent
// just completes immediately.
func (c *Coordinator) StartBatch(dirs []string, maxFiles int) (*domain.Task, error) {
	files, err := library.Enumerate(dirs, maxFiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	parent, err := c.registry.CreateBatchTask(dirs, len(files))
	if err != nil {
		return nil, err
	}

	created := 0
	queueFull := false
	for _, path := range files {
		child, ok, err := c.registry.CreateAnalyzeTask(path, &parent.ID)
		if err != nil {
			c.log.Error("Failed to create child task", "task_id", parent.ID, "path", path, "error", err)
			continue
		}
		if !ok {
			// another task already owns this path; it is not part of this batch
			continue
		}
		created++

		if queueFull {
			// stays pending; the refill tick submits it once capacity frees
			continue
		}
		if err := c.pool.Submit(pool.Job{TaskID: child.ID, Path: path}); err != nil {
			queueFull = true
		}
	}

	if created != len(files) {
		if err := c.db.SetTaskTotal(parent.ID, created); err != nil {
			c.log.Error("Failed to adjust batch total", "task_id", parent.ID, "error", err)
		}
		parent.ProgressTotal = created
	}

	if created == 0 {
		if _, err := c.registry.Finalize(parent.ID, domain.TaskStatusSucceeded, nil); err != nil {
			return nil, err
		}
		parent.Status = domain.TaskStatusSucceeded
		c.log.Info("Batch completed with no files to analyze", "task_id", parent.ID)
		return parent, nil
	}

	c.log.Info("Batch started", "task_id", parent.ID, "files", created)
	return parent, nil
}

// AnalyzeSingle admits one analysis task for path. The bool reports whether a
// new task was created; false means an active task for the same path already
// existed and is returned instead. A saturated queue rolls the fresh task
// back and surfaces ErrBusy.
func (c *Coordinator) AnalyzeSingle(path string) (*domain.Task, bool, error) {
	if path == "" {
		return nil, false, fmt.Errorf("%w: file_path is required", domain.ErrValidation)
	}
	if !library.IsAudioFile(path) {
		return nil, false, fmt.Errorf("%w: unsupported file type %s", domain.ErrValidation, path)
	}

	task, created, err := c.registry.CreateAnalyzeTask(path, nil)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return task, false, nil
	}

	if err := c.pool.Submit(pool.Job{TaskID: task.ID, Path: path}); err != nil {
		if discardErr := c.registry.Discard(task.ID); discardErr != nil {
			c.log.Error("Failed to discard rejected task", "task_id", task.ID, "error", discardErr)
		}
		return nil, false, err
	}
	return task, true, nil
}

// Status returns one task's state; batch parents carry their child
// aggregates.
func (c *Coordinator) Status(taskID string) (*StatusView, error) {
	task, err := c.registry.Get(taskID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Task: task}
	if task.Kind == domain.TaskKindBatch {
		stats, err := c.db.GetChildStats(taskID)
		if err != nil {
			return nil, err
		}
		view.Children = stats
	}
	return view, nil
}

// Children lists a batch parent's child tasks, oldest first.
func (c *Coordinator) Children(taskID string) ([]*domain.Task, error) {
	return c.registry.ListChildren(taskID)
}

// Tasks lists active tasks, plus recently finished ones when all is set.
func (c *Coordinator) Tasks(all bool) ([]*domain.Task, error) {
	active, err := c.registry.ListActive()
	if err != nil {
		return nil, err
	}
	if !all {
		return active, nil
	}

	finished, err := c.registry.ListFinished(constants.MaxFinishedList)
	if err != nil {
		return nil, err
	}
	return append(active, finished...), nil
}

// Cancel marks a task cancelled. Pending tasks never run; running tasks
// finish but their completion write is rejected. Returns false when the task
// was already terminal. Cancelling a batch child settles the parent's
// bookkeeping here: no worker is going to report for it, and the batch must
// still reach a terminal state.
func (c *Coordinator) Cancel(taskID string) (bool, error) {
	task, err := c.registry.Get(taskID)
	if err != nil {
		return false, err
	}

	changed, err := c.registry.Cancel(taskID)
	if err != nil || !changed {
		return changed, err
	}

	if task.ParentID != nil {
		c.afterChildTerminal(task)
	}
	return true, nil
}

// Stats returns the library-wide aggregates for the stats endpoint.
func (c *Coordinator) Stats() (*domain.LibraryStats, error) {
	return c.db.GetLibraryStats()
}

// Artwork loads the embedded cover art for a stored track.
func (c *Coordinator) Artwork(trackID int64) (*analysis.Artwork, error) {
	track, err := c.db.GetTrackByID(trackID)
	if err != nil {
		return nil, err
	}
	return c.engine.Artwork(track.Path)
}

// runTask is the pool runner for one analyze task: claim, analyze, persist,
// and complete, each guarded so a cancelled or timed-out task discards its
// result instead of writing. The batch bookkeeping runs whenever the task
// went terminal under this worker, whichever way it got there.
func (c *Coordinator) runTask(ctx context.Context, job pool.Job) {
	log := c.log.WithTask(job.TaskID, string(domain.TaskKindAnalyze))

	claimed, err := c.registry.Claim(job.TaskID)
	if err != nil {
		log.Error("Claim failed", "error", err)
		return
	}
	if !claimed {
		log.Info("Task no longer pending, skipping", "path", job.Path)
		return
	}

	task, err := c.registry.Get(job.TaskID)
	if err != nil {
		log.Error("Failed to load claimed task", "error", err)
		return
	}
	if task.ParentID != nil {
		// first child starting moves the batch parent to running
		_, _ = c.registry.Claim(*task.ParentID)
	}

	if c.analyzeAndPersist(ctx, log, job) {
		c.afterChildTerminal(task)
	}
}

// analyzeAndPersist runs the analysis phase for a claimed task and reports
// whether the task reached a terminal state under this worker. A panicking
// analyzer is recovered into a failed task right here; left to the watchdog,
// the row would sit running for the full timeout budget.
func (c *Coordinator) analyzeAndPersist(ctx context.Context, log *logger.Logger, job pool.Job) (terminal bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("Analysis panicked", "path", job.Path, "panic", r)
		if terminal {
			// the completion was already recorded; only the result persist died
			return
		}
		failed, failErr := c.registry.Fail(job.TaskID, fmt.Sprintf("panic: %v", r))
		if failErr != nil {
			log.Error("Fail transition failed", "error", failErr)
			return
		}
		terminal = failed
	}()

	taskCtx, cancelTask := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancelTask()

	result, err := c.engine.Analyze(taskCtx, job.Path)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Shutdown during analysis; task left for recovery", "path", job.Path)
			return false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", domain.ErrTimeout, c.cfg.TaskTimeout)
		}

		failed, failErr := c.registry.Fail(job.TaskID, err.Error())
		if failErr != nil {
			log.Error("Fail transition failed", "error", failErr)
			return false
		}
		if failed {
			log.Warn("Analysis failed", "path", job.Path, "error", err)
		}
		return failed
	}

	// The status guard is the late-write gate: losing it means the task was
	// cancelled or timed out while we worked, and the result is discarded.
	won, err := c.registry.Complete(job.TaskID)
	if err != nil {
		log.Error("Complete transition failed", "error", err)
		return false
	}
	if !won {
		log.Info("Task finished late; result discarded", "path", job.Path)
		return false
	}

	terminal = true
	c.persistResult(ctx, log, result)
	return true
}

func (c *Coordinator) persistResult(ctx context.Context, log *logger.Logger, result *domain.Analysis) {
	track := result.Track()
	trackID, err := c.db.UpsertTrack(track)
	if err != nil {
		log.Error("Failed to persist track", "path", result.Path, "error", err)
		return
	}

	if err := c.db.ReplaceGlobalFeatures(trackID, result.Global); err != nil {
		log.Error("Failed to persist global features", "track_id", trackID, "error", err)
	}
	if err := c.db.ReplaceSeriesFeatures(trackID, result.Series); err != nil {
		log.Error("Failed to persist series features", "track_id", trackID, "error", err)
	}

	log.Info("Track analyzed",
		"track_id", trackID,
		"path", result.Path,
		"bpm", result.BPM,
		"camelot", result.Camelot)

	if c.enricher != nil {
		if _, err := c.enricher.EnrichTrack(ctx, track); err != nil {
			log.Warn("Enrichment failed", "path", result.Path, "error", err)
		}
	}
}

// afterChildTerminal does the batch bookkeeping owed by whichever writer
// moved a child to a terminal state.
func (c *Coordinator) afterChildTerminal(task *domain.Task) {
	if task.ParentID == nil {
		return
	}
	parentID := *task.ParentID

	if err := c.db.IncrementTaskProgress(parentID); err != nil {
		c.log.Error("Failed to bump batch progress", "task_id", parentID, "error", err)
	}
	c.finalizeBatch(parentID)
}

// finalizeBatch moves a batch parent to its terminal outcome once its
// children allow it: fail-fast batches fail on the first failed child, and
// cancel the rest; partial-tolerant batches wait for every child and settle
// on succeeded, failed, or partial.
func (c *Coordinator) finalizeBatch(parentID string) {
	parent, err := c.registry.Get(parentID)
	if err != nil || parent.Status.IsTerminal() {
		return
	}

	cs, err := c.db.GetChildStats(parentID)
	if err != nil {
		c.log.Error("Failed to load child stats", "task_id", parentID, "error", err)
		return
	}

	if domain.BatchPolicy(c.cfg.BatchPolicy) == domain.BatchPolicyFailFast && cs.Failed > 0 {
		detail := fmt.Sprintf("%d of %d files failed", cs.Failed, cs.Total)
		changed, err := c.registry.Finalize(parentID, domain.TaskStatusFailed, &detail)
		if err != nil {
			c.log.Error("Failed to finalize batch", "task_id", parentID, "error", err)
			return
		}
		if changed {
			if n, err := c.db.CancelPendingChildren(parentID, "batch failed fast"); err != nil {
				c.log.Error("Failed to cancel pending children", "task_id", parentID, "error", err)
			} else if n > 0 {
				c.log.Info("Cancelled pending children", "task_id", parentID, "count", n)
			}
			c.log.Warn("Batch failed fast", "task_id", parentID, "failed", cs.Failed)
		}
		return
	}

	if cs.Active > 0 {
		return
	}

	var to domain.TaskStatus
	var detail *string
	switch {
	case cs.Failed == 0 && cs.Cancelled == 0:
		to = domain.TaskStatusSucceeded
	case cs.Succeeded == 0 && cs.Cancelled == 0:
		to = domain.TaskStatusFailed
		d := fmt.Sprintf("all %d files failed", cs.Failed)
		detail = &d
	default:
		to = domain.TaskStatusPartial
		d := fmt.Sprintf("%d succeeded, %d failed, %d cancelled", cs.Succeeded, cs.Failed, cs.Cancelled)
		detail = &d
	}

	changed, err := c.registry.Finalize(parentID, to, detail)
	if err != nil {
		c.log.Error("Failed to finalize batch", "task_id", parentID, "error", err)
		return
	}
	if changed {
		c.log.Info("Batch finished",
			"task_id", parentID,
			"status", to,
			"succeeded", cs.Succeeded,
			"failed", cs.Failed,
			"cancelled", cs.Cancelled)
	}
}

// recoverBatches re-checks non-terminal batch parents on startup; a crash
// between the last child finishing and the parent finalizing would otherwise
// leave the parent active forever.
func (c *Coordinator) recoverBatches() {
	active, err := c.registry.ListActive()
	if err != nil {
		c.log.Error("Failed to list active tasks for recovery", "error", err)
		return
	}
	for _, t := range active {
		if t.Kind == domain.TaskKindBatch {
			c.finalizeBatch(t.ID)
		}
	}
}

func (c *Coordinator) startWatcher() {
	submit := func(path string) {
		if _, _, err := c.AnalyzeSingle(path); err != nil {
			c.log.Warn("Watcher submission rejected", "path", path, "error", err)
		}
	}

	w, err := library.NewWatcher(c.cfg.LibraryDirs, 0, submit, c.log)
	if err != nil {
		c.log.Warn("Library watcher unavailable", "error", err)
		return
	}
	if err := w.Start(); err != nil {
		c.log.Warn("Library watcher not started", "error", err)
		return
	}
	c.watcher = w
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	tick := time.NewTicker(c.tickInterval)
	defer tick.Stop()
	sweep := time.NewTicker(c.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-tick.C:
			c.timeoutStaleTasks()
			c.refillQueue()
		case <-sweep.C:
			c.sweep()
		}
	}
}

// timeoutStaleTasks is the watchdog: running tasks past their wall-clock
// budget are failed here, and the worker's own completion loses the status
// guard when it eventually returns.
func (c *Coordinator) timeoutStaleTasks() {
	cutoff := time.Now().Add(-c.cfg.TaskTimeout)
	stale, err := c.db.ListStaleRunningTasks(cutoff)
	if err != nil {
		c.log.Error("Watchdog list failed", "error", err)
		return
	}

	for _, t := range stale {
		detail := fmt.Sprintf("%s after %s", domain.ErrTimeout, c.cfg.TaskTimeout)
		changed, err := c.registry.FailRunning(t.ID, detail)
		if err != nil {
			c.log.Error("Watchdog fail transition failed", "task_id", t.ID, "error", err)
			continue
		}
		if changed {
			c.log.Warn("Task timed out", "task_id", t.ID, "path", t.Path)
			c.afterChildTerminal(t)
		}
	}
}

// refillQueue tops the worker queue up from pending tasks. Submit ignores
// ids already queued or running, so re-offering the same rows is harmless.
func (c *Coordinator) refillQueue() {
	queued, capacity, _ := c.pool.Stats()
	free := capacity - queued
	if free <= 0 {
		return
	}

	pending, err := c.db.ListPendingAnalyzeTasks(free)
	if err != nil {
		c.log.Error("Refill list failed", "error", err)
		return
	}

	for _, t := range pending {
		if err := c.pool.Submit(pool.Job{TaskID: t.ID, Path: t.Path}); err != nil {
			return
		}
	}
}

func (c *Coordinator) sweep() {
	if n, err := c.db.EvictFinishedTasks(time.Now()); err != nil {
		c.log.Error("Retention sweep failed", "error", err)
	} else if n > 0 {
		c.log.Info("Evicted finished tasks", "count", n)
	}

	if n, err := c.db.PurgeExpiredCache(); err != nil {
		c.log.Error("Cache purge failed", "error", err)
	} else if n > 0 {
		c.log.Debug("Purged expired cache entries", "count", n)
	}

	if c.enricher != nil {
		if n := c.enricher.Sweep(c.ctx, enrichSweepLimit); n > 0 {
			c.log.Info("Enriched tracks", "count", n)
		}
	}
}
