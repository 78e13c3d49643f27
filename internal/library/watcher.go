package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cueprep/cueprep/internal/logger"
)

// defaultSettle is how long a file must stay quiet after its last
// create/write event before it is submitted.
const defaultSettle = 2 * time.Second

// Watcher observes library directories recursively and submits audio files
// once their write bursts settle. Submission dedup is the coordinator's
// problem; repeated submits for one path are harmless.
type Watcher struct {
	dirs   []string
	settle time.Duration
	submit func(path string)
	log    *logger.Logger

	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	pending  map[string]*time.Timer
	watching bool
}

// NewWatcher builds a watcher over dirs. settle <= 0 picks the default;
// submit is called once per settled file.
func NewWatcher(dirs []string, settle time.Duration, submit func(string), log *logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if settle <= 0 {
		settle = defaultSettle
	}
	if log == nil {
		log = logger.Default()
	}
	return &Watcher{
		dirs:    dirs,
		settle:  settle,
		submit:  submit,
		log:     log.WithComponent("watcher"),
		fsw:     fsw,
		stopCh:  make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Start registers the directories and begins the event loop. Missing
// directories are skipped with a warning; at least one must be watchable.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("watcher already running")
	}

	added := 0
	for _, dir := range w.dirs {
		if _, err := os.Stat(dir); err != nil {
			w.log.Warn("skipping unwatchable directory", "dir", dir, "error", err)
			continue
		}
		if err := w.addRecursive(dir, false); err != nil {
			w.log.Warn("watch failed", "dir", dir, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("no watchable directories among %d configured", len(w.dirs))
	}

	w.watching = true
	w.wg.Add(1)
	go w.loop()

	w.log.Info("library watch started", "dirs", added)
	return nil
}

// Stop ends the event loop and cancels any files still settling.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = false
	close(w.stopCh)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	w.log.Info("library watch stopped")
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", "error", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// Gone again before we looked.
		return
	}

	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := w.addRecursive(event.Name, true); err != nil {
				w.log.Warn("watch new directory failed", "dir", event.Name, "error", err)
			}
		}
		return
	}

	if !IsAudioFile(event.Name) {
		return
	}
	w.schedule(event.Name)
}

// addRecursive watches dir and its subdirectories. With scheduleFiles set,
// audio files already present are scheduled too; a directory that appeared
// and filled up before its watch was active would otherwise be missed.
func (w *Watcher) addRecursive(dir string, scheduleFiles bool) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.log.Warn("watch subdirectory failed", "dir", path, "error", err)
			}
			return nil
		}
		if scheduleFiles && IsAudioFile(path) {
			w.schedule(path)
		}
		return nil
	})
}

// schedule arms (or re-arms) the settle timer for path. The submit fires
// once the path has been quiet for the settle window.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.submit(path)
	})
}
