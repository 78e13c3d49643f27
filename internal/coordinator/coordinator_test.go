package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cueprep/cueprep/internal/analysis"
	"github.com/cueprep/cueprep/internal/config"
	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/logger"
	"github.com/cueprep/cueprep/internal/store"
	"github.com/cueprep/cueprep/internal/tasks"
)

// fakeEngine stands in for the analyzer so tests control timing and
// outcomes. A non-nil block channel holds Analyze until released; ignoreCtx
// makes the hold survive context cancellation, which is how a stuck worker
// looks to the watchdog.
type fakeEngine struct {
	mu        sync.Mutex
	fail      map[string]string
	panics    map[string]string
	block     chan struct{}
	started   chan string
	ignoreCtx bool
	calls     int
}

func (f *fakeEngine) Analyze(ctx context.Context, path string) (*domain.Analysis, error) {
	if f.started != nil {
		f.started <- path
	}
	if f.block != nil {
		if f.ignoreCtx {
			<-f.block
		} else {
			select {
			case <-f.block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	f.calls++
	detail := f.fail[path]
	boom := f.panics[path]
	f.mu.Unlock()

	if boom != "" {
		panic(boom)
	}
	if detail != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrAnalysisFailed, detail)
	}

	base := filepath.Base(path)
	return &domain.Analysis{
		Path:       path,
		Filename:   base,
		Extension:  filepath.Ext(path),
		Title:      strings.TrimSuffix(base, filepath.Ext(path)),
		Artist:     "Test Artist",
		Duration:   180,
		BPM:        124,
		KeyName:    "A",
		KeyScale:   "minor",
		Camelot:    "8A",
		Energy:     0.5,
		LoudnessDB: -9.5,
		Mood:       "neutral",
		Global:     map[string]float64{"bpm": 124, "energy": 0.5, "duration": 180},
		Series:     map[string][]float64{"beat_times": {0.5, 1.0, 1.5}},
		AnalyzedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeEngine) Artwork(string) (*analysis.Artwork, error) {
	return nil, domain.ErrNotFound
}

func testConfig() *config.Config {
	return &config.Config{
		Workers:     3,
		QueueDepth:  64,
		TaskTimeout: 5 * time.Second,
		BatchPolicy: "partial",
	}
}

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() {
		if cErr := db.Close(); cErr != nil {
			t.Logf("db.Close error: %v", cErr)
		}
	})
	return db
}

func startCoordinator(t *testing.T, cfg *config.Config, db *store.DB, engine AnalysisEngine) *Coordinator {
	t.Helper()

	c := New(cfg, db, logger.New(logger.Config{Level: "error"}))
	c.tickInterval = 50 * time.Millisecond
	if engine != nil {
		c.engine = engine
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Failed to start coordinator: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

// newBlocker must be called after startCoordinator so its cleanup releases
// blocked workers before Stop waits for them.
func newBlocker(t *testing.T) (chan struct{}, func()) {
	t.Helper()
	ch := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	return ch, release
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func waitTerminal(t *testing.T, c *Coordinator, id string) *domain.Task {
	t.Helper()
	var task *domain.Task
	waitFor(t, "task to finish", func() bool {
		view, err := c.Status(id)
		if err != nil {
			return false
		}
		task = view.Task
		return task.Status.IsTerminal()
	})
	return task
}

// drainPool waits until no job is queued or running, at which point every
// completed task has finished persisting.
func drainPool(t *testing.T, c *Coordinator) {
	t.Helper()
	waitFor(t, "pool to drain", func() bool { return c.pool.InFlight() == 0 })
}

func writeAudioFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("audio"), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", p, err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestAnalyzeSingle_CompletesAndPersists(t *testing.T) {
	db := openTestStore(t)
	c := startCoordinator(t, testConfig(), db, &fakeEngine{})

	task, created, err := c.AnalyzeSingle("/music/track.mp3")
	if err != nil {
		t.Fatalf("AnalyzeSingle failed: %v", err)
	}
	if !created {
		t.Fatal("Expected a new task")
	}

	done := waitTerminal(t, c, task.ID)
	if done.Status != domain.TaskStatusSucceeded {
		t.Fatalf("Expected succeeded, got %s (error: %v)", done.Status, done.Error)
	}
	drainPool(t, c)

	track, err := db.GetTrackByPath("/music/track.mp3")
	if err != nil {
		t.Fatalf("GetTrackByPath failed: %v", err)
	}
	if track.BPM != 124 || track.Camelot != "8A" {
		t.Errorf("Unexpected track fields: bpm %v camelot %s", track.BPM, track.Camelot)
	}

	global, err := db.GetGlobalFeatures(track.ID)
	if err != nil {
		t.Fatalf("GetGlobalFeatures failed: %v", err)
	}
	if global["bpm"] != 124 || global["energy"] != 0.5 {
		t.Errorf("Global features lost in round trip: %v", global)
	}

	series, err := db.GetSeriesFeatures(track.ID)
	if err != nil {
		t.Fatalf("GetSeriesFeatures failed: %v", err)
	}
	beats := series["beat_times"]
	if len(beats) != 3 || beats[0] != 0.5 || beats[2] != 1.5 {
		t.Errorf("Series features lost in round trip: %v", beats)
	}
}

func TestAnalyzeSingle_ConcurrentDedup(t *testing.T) {
	db := openTestStore(t)
	engine := &fakeEngine{}
	c := startCoordinator(t, testConfig(), db, engine)

	block, release := newBlocker(t)
	engine.block = block

	const n = 10
	type result struct {
		task    *domain.Task
		created bool
		err     error
	}
	results := make([]result, n)

	var wg sync.WaitGroup
	ready := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			task, created, err := c.AnalyzeSingle("/music/same.mp3")
			results[i] = result{task, created, err}
		}(i)
	}
	close(ready)
	wg.Wait()

	createdCount := 0
	ids := make(map[string]struct{})
	for i, r := range results {
		if r.err != nil {
			t.Fatalf("Submission %d failed: %v", i, r.err)
		}
		if r.created {
			createdCount++
		}
		ids[r.task.ID] = struct{}{}
	}
	if createdCount != 1 {
		t.Errorf("Expected exactly 1 created task, got %d", createdCount)
	}
	if len(ids) != 1 {
		t.Errorf("Expected all submissions to share one task id, got %d", len(ids))
	}

	release()
	for id := range ids {
		waitTerminal(t, c, id)
	}
	drainPool(t, c)

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 track row, got %d", count)
	}
	engine.mu.Lock()
	calls := engine.calls
	engine.mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected 1 analysis, got %d", calls)
	}
}

func TestCancelPending_WorkerSkipsIt(t *testing.T) {
	db := openTestStore(t)
	engine := &fakeEngine{started: make(chan string, 8)}
	cfg := testConfig()
	cfg.Workers = 1
	c := startCoordinator(t, cfg, db, engine)

	block, release := newBlocker(t)
	engine.block = block

	first, _, err := c.AnalyzeSingle("/music/a.mp3")
	if err != nil {
		t.Fatalf("AnalyzeSingle failed: %v", err)
	}
	<-engine.started // the lone worker is now busy with the first task

	second, _, err := c.AnalyzeSingle("/music/b.mp3")
	if err != nil {
		t.Fatalf("AnalyzeSingle failed: %v", err)
	}

	cancelled, err := c.Cancel(second.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !cancelled {
		t.Fatal("Expected pending task to cancel")
	}

	release()
	if done := waitTerminal(t, c, first.ID); done.Status != domain.TaskStatusSucceeded {
		t.Fatalf("Expected first task to succeed, got %s", done.Status)
	}
	drainPool(t, c)

	view, err := c.Status(second.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.Task.Status != domain.TaskStatusCancelled {
		t.Errorf("Expected cancelled to stick, got %s", view.Task.Status)
	}

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected only the first track persisted, got %d", count)
	}
}

func TestCancelRunning_ResultDiscarded(t *testing.T) {
	db := openTestStore(t)
	engine := &fakeEngine{started: make(chan string, 8)}
	c := startCoordinator(t, testConfig(), db, engine)

	block, release := newBlocker(t)
	engine.block = block

	task, _, err := c.AnalyzeSingle("/music/a.mp3")
	if err != nil {
		t.Fatalf("AnalyzeSingle failed: %v", err)
	}
	<-engine.started

	cancelled, err := c.Cancel(task.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !cancelled {
		t.Fatal("Expected running task to cancel")
	}

	release()
	drainPool(t, c)

	view, err := c.Status(task.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.Task.Status != domain.TaskStatusCancelled {
		t.Errorf("Terminal state regressed to %s", view.Task.Status)
	}

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Cancelled task wrote its result: %d tracks", count)
	}
}

func TestCancelBatchChild_FinalizesParent(t *testing.T) {
	db := openTestStore(t)
	dir := t.TempDir()
	writeAudioFiles(t, dir, "a.mp3")

	engine := &fakeEngine{started: make(chan string, 8)}
	cfg := testConfig()
	cfg.Workers = 1
	c := startCoordinator(t, cfg, db, engine)

	block, release := newBlocker(t)
	engine.block = block

	parent, err := c.StartBatch([]string{dir}, -1)
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	<-engine.started // the only child is mid-analysis

	children, err := c.Children(parent.ID)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("Expected 1 child, got %d", len(children))
	}

	cancelled, err := c.Cancel(children[0].ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !cancelled {
		t.Fatal("Expected running child to cancel")
	}

	// the parent must settle without its worker ever reporting back
	done := waitTerminal(t, c, parent.ID)
	if done.Status != domain.TaskStatusPartial {
		t.Fatalf("Expected partial, got %s", done.Status)
	}
	if done.ProgressDone != 1 || done.ProgressTotal != 1 {
		t.Errorf("Expected progress 1/1, got %d/%d", done.ProgressDone, done.ProgressTotal)
	}

	release()
	drainPool(t, c)

	view, err := c.Status(parent.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.Task.Status != domain.TaskStatusPartial {
		t.Errorf("Late worker moved the parent to %s", view.Task.Status)
	}
	if view.Children.Cancelled != 1 || view.Children.Active != 0 {
		t.Errorf("Unexpected child stats: %+v", view.Children)
	}
	if view.Task.ProgressDone != 1 {
		t.Errorf("Late worker double-counted progress: %d", view.Task.ProgressDone)
	}

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Cancelled child wrote its result: %d tracks", count)
	}
}

func TestAnalysisPanic_FailsTaskAndParent(t *testing.T) {
	db := openTestStore(t)
	dir := t.TempDir()
	paths := writeAudioFiles(t, dir, "a.mp3")

	engine := &fakeEngine{panics: map[string]string{paths[0]: "corrupt header table"}}
	cfg := testConfig()
	// a generous timeout proves the recover fails the task, not the watchdog
	cfg.TaskTimeout = time.Hour
	c := startCoordinator(t, cfg, db, engine)

	parent, err := c.StartBatch([]string{dir}, -1)
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}

	done := waitTerminal(t, c, parent.ID)
	if done.Status != domain.TaskStatusFailed {
		t.Fatalf("Expected failed, got %s", done.Status)
	}
	if done.ProgressDone != 1 || done.ProgressTotal != 1 {
		t.Errorf("Expected progress 1/1, got %d/%d", done.ProgressDone, done.ProgressTotal)
	}
	drainPool(t, c)

	children, err := c.Children(parent.ID)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("Expected 1 child, got %d", len(children))
	}
	if children[0].Status != domain.TaskStatusFailed {
		t.Errorf("Expected failed child, got %s", children[0].Status)
	}
	if children[0].Error == nil || !strings.Contains(*children[0].Error, "panic: corrupt header table") {
		t.Errorf("Child error missing panic detail: %v", children[0].Error)
	}

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Panicked analysis wrote a track: %d", count)
	}
}

func TestReanalysisKeepsOneTrackRow(t *testing.T) {
	db := openTestStore(t)
	c := startCoordinator(t, testConfig(), db, &fakeEngine{})

	var lastID string
	for i := 0; i < 3; i++ {
		task, created, err := c.AnalyzeSingle("/music/same.mp3")
		if err != nil {
			t.Fatalf("Round %d failed: %v", i, err)
		}
		if !created {
			t.Fatalf("Round %d: expected a fresh task after the last one finished", i)
		}
		if task.ID == lastID {
			t.Fatalf("Round %d reused task id %s", i, task.ID)
		}
		lastID = task.ID
		waitTerminal(t, c, task.ID)
		drainPool(t, c)
	}

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 track row after re-analysis, got %d", count)
	}
}

func TestStartBatch_EmptyCompletesImmediately(t *testing.T) {
	db := openTestStore(t)
	c := startCoordinator(t, testConfig(), db, &fakeEngine{})

	emptyDir := t.TempDir()
	fullDir := t.TempDir()
	writeAudioFiles(t, fullDir, "a.mp3")

	cases := []struct {
		name     string
		dirs     []string
		maxFiles int
	}{
		{"no directories", nil, 10},
		{"no audio files", []string{emptyDir}, 10},
		{"max_files zero", []string{fullDir}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parent, err := c.StartBatch(tc.dirs, tc.maxFiles)
			if err != nil {
				t.Fatalf("StartBatch failed: %v", err)
			}
			if parent.Status != domain.TaskStatusSucceeded {
				t.Errorf("Expected immediate success, got %s", parent.Status)
			}

			view, err := c.Status(parent.ID)
			if err != nil {
				t.Fatalf("Status failed: %v", err)
			}
			if view.Task.Status != domain.TaskStatusSucceeded {
				t.Errorf("Stored status is %s", view.Task.Status)
			}
			if view.Children.Total != 0 {
				t.Errorf("Expected zero children, got %d", view.Children.Total)
			}
		})
	}
}

func TestStartBatch_AnalyzesAllFiles(t *testing.T) {
	db := openTestStore(t)
	c := startCoordinator(t, testConfig(), db, &fakeEngine{})

	dir := t.TempDir()
	writeAudioFiles(t, dir, "a.mp3", "b.flac", "c.wav", "d.mp3", "e.mp3")

	parent, err := c.StartBatch([]string{dir}, -1)
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	if parent.ProgressTotal != 5 {
		t.Errorf("Expected total 5, got %d", parent.ProgressTotal)
	}

	done := waitTerminal(t, c, parent.ID)
	if done.Status != domain.TaskStatusSucceeded {
		t.Fatalf("Expected succeeded, got %s (error: %v)", done.Status, done.Error)
	}
	if done.ProgressDone != 5 {
		t.Errorf("Expected progress 5, got %d", done.ProgressDone)
	}
	drainPool(t, c)

	view, err := c.Status(parent.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.Children.Succeeded != 5 || view.Children.Active != 0 {
		t.Errorf("Unexpected child stats: %+v", view.Children)
	}

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 tracks, got %d", count)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.AnalyzedTracks != 5 {
		t.Errorf("Expected 5 analyzed tracks in stats, got %d", stats.AnalyzedTracks)
	}

	active, err := c.Tasks(false)
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active tasks, got %d", len(active))
	}
	all, err := c.Tasks(true)
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(all) != 6 { // parent plus five children
		t.Errorf("Expected 6 tasks listed, got %d", len(all))
	}
}

func TestStartBatch_FailFastCancelsPending(t *testing.T) {
	db := openTestStore(t)
	dir := t.TempDir()
	paths := writeAudioFiles(t, dir, "a.mp3", "b.mp3", "c.mp3")

	engine := &fakeEngine{fail: map[string]string{paths[0]: "unreadable"}}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.BatchPolicy = "failfast"
	c := startCoordinator(t, cfg, db, engine)

	parent, err := c.StartBatch([]string{dir}, -1)
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}

	done := waitTerminal(t, c, parent.ID)
	if done.Status != domain.TaskStatusFailed {
		t.Fatalf("Expected failed, got %s", done.Status)
	}
	if done.Error == nil || !strings.Contains(*done.Error, "1 of 3 files failed") {
		t.Errorf("Unexpected failure detail: %v", done.Error)
	}
	drainPool(t, c)

	view, err := c.Status(parent.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.Children.Failed != 1 || view.Children.Cancelled != 2 {
		t.Errorf("Expected 1 failed and 2 cancelled children, got %+v", view.Children)
	}
	if view.Task.ProgressDone != 3 {
		t.Errorf("Cancelled children not credited to progress: %d/3", view.Task.ProgressDone)
	}

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no tracks, got %d", count)
	}
}

func TestStartBatch_PartialOutcome(t *testing.T) {
	db := openTestStore(t)
	dir := t.TempDir()
	paths := writeAudioFiles(t, dir, "a.mp3", "b.mp3", "c.mp3")

	engine := &fakeEngine{fail: map[string]string{paths[1]: "corrupt frame"}}
	c := startCoordinator(t, testConfig(), db, engine)

	parent, err := c.StartBatch([]string{dir}, -1)
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}

	done := waitTerminal(t, c, parent.ID)
	if done.Status != domain.TaskStatusPartial {
		t.Fatalf("Expected partial, got %s", done.Status)
	}
	if done.Error == nil || !strings.Contains(*done.Error, "2 succeeded, 1 failed") {
		t.Errorf("Unexpected detail: %v", done.Error)
	}
	drainPool(t, c)

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 tracks, got %d", count)
	}

	children, err := c.Children(parent.ID)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("Expected 3 children, got %d", len(children))
	}
	for _, child := range children {
		if child.Path != paths[1] {
			continue
		}
		if child.Status != domain.TaskStatusFailed {
			t.Errorf("Expected failed child for %s, got %s", child.Path, child.Status)
		}
		if child.Error == nil || !strings.Contains(*child.Error, "corrupt frame") {
			t.Errorf("Child error missing detail: %v", child.Error)
		}
	}
}

func TestStartBatch_MissingDirectory(t *testing.T) {
	db := openTestStore(t)
	c := startCoordinator(t, testConfig(), db, &fakeEngine{})

	_, err := c.StartBatch([]string{"/cueprep-no-such-dir"}, -1)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestStartBatch_RefillDrainsOverflow(t *testing.T) {
	db := openTestStore(t)
	dir := t.TempDir()
	writeAudioFiles(t, dir, "a.mp3", "b.mp3", "c.mp3", "d.mp3")

	engine := &fakeEngine{}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueDepth = 1
	c := startCoordinator(t, cfg, db, engine)

	block, release := newBlocker(t)
	engine.block = block

	parent, err := c.StartBatch([]string{dir}, -1)
	if err != nil {
		t.Fatalf("StartBatch failed: %v", err)
	}
	if parent.ProgressTotal != 4 {
		t.Fatalf("Expected 4 children despite the tiny queue, got %d", parent.ProgressTotal)
	}

	release()
	done := waitTerminal(t, c, parent.ID)
	if done.Status != domain.TaskStatusSucceeded {
		t.Fatalf("Expected succeeded, got %s (error: %v)", done.Status, done.Error)
	}
	drainPool(t, c)

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected all 4 tracks analyzed, got %d", count)
	}
}

func TestAnalyzeSingle_BusyRollsBack(t *testing.T) {
	db := openTestStore(t)
	engine := &fakeEngine{started: make(chan string, 8)}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueDepth = 1
	c := startCoordinator(t, cfg, db, engine)

	block, release := newBlocker(t)
	engine.block = block

	if _, _, err := c.AnalyzeSingle("/music/a.mp3"); err != nil {
		t.Fatalf("First submission failed: %v", err)
	}
	<-engine.started // worker busy, queue empty

	if _, _, err := c.AnalyzeSingle("/music/b.mp3"); err != nil {
		t.Fatalf("Second submission failed: %v", err)
	}

	task, created, err := c.AnalyzeSingle("/music/c.mp3")
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}
	if task != nil || created {
		t.Error("Expected no task back on rejection")
	}

	// the rejected task must be rolled back so a retry is admitted cleanly
	if active, err := db.GetActiveTaskByPath("/music/c.mp3"); err != nil {
		t.Fatalf("GetActiveTaskByPath failed: %v", err)
	} else if active != nil {
		t.Errorf("Rejected task left behind: %s", active.ID)
	}

	release()
	drainPool(t, c)
}

func TestWatchdog_TimesOutStuckWorker(t *testing.T) {
	db := openTestStore(t)
	engine := &fakeEngine{started: make(chan string, 8), ignoreCtx: true}
	cfg := testConfig()
	cfg.TaskTimeout = 150 * time.Millisecond
	c := startCoordinator(t, cfg, db, engine)

	block, release := newBlocker(t)
	engine.block = block

	task, _, err := c.AnalyzeSingle("/music/stuck.mp3")
	if err != nil {
		t.Fatalf("AnalyzeSingle failed: %v", err)
	}
	<-engine.started

	done := waitTerminal(t, c, task.ID)
	if done.Status != domain.TaskStatusFailed {
		t.Fatalf("Expected failed, got %s", done.Status)
	}
	if done.Error == nil || !strings.Contains(*done.Error, "timed out") {
		t.Errorf("Expected timeout detail, got %v", done.Error)
	}

	// release the worker late; its completion must lose the status guard
	release()
	drainPool(t, c)

	view, err := c.Status(task.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.Task.Status != domain.TaskStatusFailed {
		t.Errorf("Late completion resurrected the task: %s", view.Task.Status)
	}

	count, err := db.CountTracks()
	if err != nil {
		t.Fatalf("CountTracks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Late completion wrote its result: %d tracks", count)
	}
}

func TestStatus_UnknownTask(t *testing.T) {
	db := openTestStore(t)
	c := startCoordinator(t, testConfig(), db, &fakeEngine{})

	_, err := c.Status("no-such-task")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAnalyzeSingle_Validation(t *testing.T) {
	db := openTestStore(t)
	c := startCoordinator(t, testConfig(), db, &fakeEngine{})

	if _, _, err := c.AnalyzeSingle(""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected validation error for empty path, got %v", err)
	}
	if _, _, err := c.AnalyzeSingle("/music/notes.txt"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected validation error for non-audio path, got %v", err)
	}
}

func TestStart_RecoversUnfinalizedBatch(t *testing.T) {
	db := openTestStore(t)

	// simulate a crash after the last child finished but before the parent
	// was finalized
	registry := tasks.NewRegistry(db, logger.New(logger.Config{Level: "error"}))
	parent, err := registry.CreateBatchTask([]string{"/music"}, 2)
	if err != nil {
		t.Fatalf("CreateBatchTask failed: %v", err)
	}
	for _, path := range []string{"/music/a.mp3", "/music/b.mp3"} {
		child, _, err := registry.CreateAnalyzeTask(path, &parent.ID)
		if err != nil {
			t.Fatalf("CreateAnalyzeTask failed: %v", err)
		}
		if _, err := registry.Claim(child.ID); err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if _, err := registry.Complete(child.ID); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
	}

	c := startCoordinator(t, testConfig(), db, &fakeEngine{})

	done := waitTerminal(t, c, parent.ID)
	if done.Status != domain.TaskStatusSucceeded {
		t.Errorf("Expected recovered batch to succeed, got %s", done.Status)
	}
}
