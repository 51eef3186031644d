// file: internal/watcher/watcher.go
// version: 3.1.0
// guid: b2c3d4e5-f6a7-8901-bcde-f23456789012

package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jdfalk/dj-tagger/internal/logger"
)

// DefaultDebounce is the default debounce period.
const DefaultDebounce = 5 * time.Second

// Callback receives the audio files that changed during one debounce window, sorted.
type Callback func(paths []string)

// Watcher monitors a directory tree for audio file changes and reports the
// changed paths after a debounce period.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	rootDir    string
	extensions map[string]bool
	debounce   time.Duration
	callback   Callback
	stop       chan struct{}
	stopped    chan struct{}
	mu         sync.Mutex
	timer      *time.Timer
	pending    map[string]struct{}
	running    bool

	newFSWatcher func() (*fsnotify.Watcher, error)
}

// New creates a Watcher for files with the given extensions (lowercase, no dot).
// Pass 0 for debounce to use DefaultDebounce.
func New(callback Callback, extensions []string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts["."+strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return &Watcher{
		extensions: exts,
		debounce:   debounce,
		callback:   callback,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		pending:    make(map[string]struct{}),

		newFSWatcher: fsnotify.NewWatcher,
	}
}

// Start begins watching rootDir recursively. A second call while running is a no-op.
func (w *Watcher) Start(rootDir string) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := w.newFSWatcher()
	if err != nil {
		w.abortStart()
		return err
	}
	w.fsWatcher = fsw
	w.rootDir = rootDir

	// Walk the tree and add all directories.
	if err := w.addRecursive(rootDir); err != nil {
		fsw.Close()
		w.fsWatcher = nil
		w.abortStart()
		return err
	}

	logger.Info("watching library for changes", logger.String("root", rootDir))
	go w.eventLoop()
	return nil
}

// abortStart undoes the running flag of a failed Start so Stop does not
// wait for an event loop that never ran
func (w *Watcher) abortStart() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Stop gracefully shuts down the watcher and waits for the event loop to exit.
// Changes still waiting for the debounce timer are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stop)
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if d.IsDir() {
			if watchErr := w.fsWatcher.Add(path); watchErr != nil {
				logger.Warn("cannot watch directory", logger.String("path", path), logger.Err(watchErr))
			}
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logger.Error("watcher error", logger.Err(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// On Create, if it's a directory, watch it recursively.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}

	relevant := event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0
	if !relevant {
		return
	}
	if !w.IsAudioFile(event.Name) {
		return
	}

	w.schedule(event.Name)
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}

	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}

	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	w.timer = nil
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)

	logger.Info("library files changed", logger.Int("count", len(paths)))
	if w.callback != nil {
		w.callback(paths)
	}
}

// IsAudioFile reports whether name has one of the watched extensions.
func (w *Watcher) IsAudioFile(name string) bool {
	return w.extensions[strings.ToLower(filepath.Ext(name))]
}
