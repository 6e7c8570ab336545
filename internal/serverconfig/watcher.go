package serverconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"playground/internal/async"
	"playground/internal/logging"
)

const defaultWatchDebounce = 750 * time.Millisecond

// Watcher reloads the store when the config file changes on disk.
type Watcher struct {
	path     string
	store    *Store
	logger   logging.Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherOption customizes watcher behavior.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce window for reloads.
func WithWatchDebounce(debounce time.Duration) WatcherOption {
	return func(w *Watcher) {
		if debounce > 0 {
			w.debounce = debounce
		}
	}
}

// WithWatchLogger sets the logger for watcher diagnostics.
func WithWatchLogger(logger logging.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logging.OrNop(logger)
	}
}

// NewWatcher constructs a watcher for the store's config file.
func NewWatcher(store *Store, opts ...WatcherOption) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("config store required")
	}
	path := store.Path()
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		logger:   logging.Nop(),
		debounce: defaultWatchDebounce,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start watches the config file's directory until ctx is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		_ = fsWatcher.Close()
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fsWatcher
	w.mu.Unlock()

	async.Go(w.logger, "serverconfig.watch", func() { w.watchLoop(fsWatcher) })
	async.Go(w.logger, "serverconfig.watch.ctx", func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopCh:
		}
	})
	return nil
}

// Stop terminates the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) watchLoop(fsWatcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		defer async.Recover(w.logger, "serverconfig.reload")
		cfg, err := w.store.Reload(context.Background())
		if err != nil {
			w.logger.Warn("Config reload failed: %v", err)
			return
		}
		w.logger.Debug("Config reloaded from disk (logging.level=%s)", cfg.Logging.Level)
	})
}
