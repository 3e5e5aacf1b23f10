package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 100 * time.Millisecond

// LimitsWatcher holds the current relay limits and reloads them when the
// backing YAML file changes. A watcher without a file serves DefaultLimits.
type LimitsWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	mu       sync.RWMutex
	current  Limits
	onChange []func(Limits)
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLimitsWatcher loads the initial limits. An empty path disables watching.
func NewLimitsWatcher(path string, logger *zap.Logger) (*LimitsWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &LimitsWatcher{
		path:    path,
		logger:  logger,
		current: DefaultLimits(),
		stopCh:  make(chan struct{}),
	}
	if path == "" {
		return w, nil
	}

	limits, err := LoadLimits(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial limits: %w", err)
	}
	w.current = limits

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory so atomic saves (write temp + rename) are seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch limits directory: %w", err)
	}
	w.watcher = watcher
	return w, nil
}

// Start begins watching for changes
func (w *LimitsWatcher) Start() {
	if w.watcher == nil {
		return
	}
	w.wg.Add(1)
	go w.watchLoop()
	w.logger.Info("Limits watcher started", zap.String("path", w.path))
}

// Stop stops watching. Safe to call more than once.
func (w *LimitsWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.wg.Wait()
	})
}

// Current returns the limits in force
func (w *LimitsWatcher) Current() Limits {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback run after every successful reload
func (w *LimitsWatcher) OnChange(handler func(Limits)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, handler)
}

// Reload re-reads the file. Invalid content keeps the current limits.
func (w *LimitsWatcher) Reload() error {
	if w.path == "" {
		return nil
	}
	limits, err := LoadLimits(w.path)
	if err != nil {
		w.logger.Error("Invalid limits, keeping current", zap.String("path", w.path), zap.Error(err))
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = limits
	handlers := append([]func(Limits){}, w.onChange...)
	w.mu.Unlock()

	w.logChanges(old, limits)
	for _, h := range handlers {
		h(limits)
	}
	return nil
}

func (w *LimitsWatcher) watchLoop() {
	defer w.wg.Done()

	var debounce *time.Timer
	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case <-w.stopCh:
				default:
					w.Reload()
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *LimitsWatcher) logChanges(old, next Limits) {
	var changes []string
	if old.MaxConnectionsPerUser != next.MaxConnectionsPerUser {
		changes = append(changes, fmt.Sprintf("maxConnectionsPerUser: %d -> %d", old.MaxConnectionsPerUser, next.MaxConnectionsPerUser))
	}
	if old.MaxMessageBytes != next.MaxMessageBytes {
		changes = append(changes, fmt.Sprintf("maxMessageBytes: %d -> %d", old.MaxMessageBytes, next.MaxMessageBytes))
	}
	if old.MessageBurst != next.MessageBurst || old.MessageRefill != next.MessageRefill {
		changes = append(changes, fmt.Sprintf("message rate: %d/%dms -> %d/%dms",
			old.MessageBurst, old.MessageRefill, next.MessageBurst, next.MessageRefill))
	}
	if old.Canvas != next.Canvas {
		changes = append(changes, fmt.Sprintf("canvas: %+v -> %+v", old.Canvas, next.Canvas))
	}

	if len(changes) > 0 {
		w.logger.Info("Limits reloaded", zap.Strings("changes", changes))
	}
}
