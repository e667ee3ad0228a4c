package rules

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ensemble/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a rule file for changes and swaps the registry's rulebook
// when the file settles. It watches the parent directory rather than the
// file itself so editor save-via-rename still delivers events.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	registry    *Registry
	path        string
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for debugging.
type WatcherStats struct {
	FileEvents     int
	Reloads        int
	Errors         int
	LastEventTime  time.Time
	LastReloadTime time.Time
}

// NewWatcher creates a watcher for the given rule file feeding the given
// registry. debounce collapses rapid saves into one reload.
func NewWatcher(path string, registry *Registry, debounce time.Duration) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		watcher:     watcher,
		registry:    registry,
		path:        abs,
		dir:         filepath.Dir(abs),
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	return w, nil
}

// Start begins watching the rule file's directory for changes.
// This method is non-blocking; it starts the watcher in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		logging.RulesWarn("Watcher: initial watch failed (dir may not exist): %v", err)
	} else {
		logging.Rules("Watcher: watching %s for changes to %s", w.dir, filepath.Base(w.path))
	}

	go w.run(ctx)

	return nil
}

// Stop stops the watcher and waits for cleanup.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.RulesError("Watcher: error closing watcher: %v", err)
	}
	logging.Rules("Watcher: stopped")
}

// run is the main event loop for the watcher.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Rules("Watcher: context cancelled")
			return

		case <-w.stopCh:
			logging.RulesDebug("Watcher: stop signal received")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				logging.Rules("Watcher: event channel closed")
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				logging.Rules("Watcher: error channel closed")
				return
			}
			logging.RulesError("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents()
		}
	}
}

// handleEvent records a filesystem event for the watched file.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Only care about the rule file itself
	if filepath.Clean(event.Name) != w.path {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return // Ignore chmod, remove
	}

	logging.RulesDebug("Watcher: %s event for %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.FileEvents++
	w.stats.LastEventTime = time.Now()
	w.debounceMap[w.path] = time.Now()
	w.mu.Unlock()
}

// processDebouncedEvents reloads once events have settled past the debounce window.
func (w *Watcher) processDebouncedEvents() {
	w.mu.Lock()
	now := time.Now()
	reload := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			delete(w.debounceMap, path)
			reload = true
		}
	}
	w.mu.Unlock()

	if reload {
		w.reload()
	}
}

// reload parses the rule file and swaps the registry. A file that fails to
// parse leaves the current rulebook untouched.
func (w *Watcher) reload() {
	if _, err := os.Stat(w.path); err != nil {
		logging.RulesDebug("Watcher: rule file gone, keeping current rulebook: %s", w.path)
		return
	}

	conversations, layers, err := LoadFile(w.path)
	if err != nil {
		logging.RulesError("Watcher: reload failed, keeping current rulebook: %v", err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	w.registry.ReplaceAll(conversations, layers)

	w.mu.Lock()
	w.stats.Reloads++
	w.stats.LastReloadTime = time.Now()
	w.mu.Unlock()

	logging.Rules("Watcher: reloaded %d conversation, %d layer rules from %s",
		len(conversations), len(layers), filepath.Base(w.path))
}

// IsWatching returns true if the watcher is currently running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns the current watcher statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}
