package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes and hands valid
// configurations to the reload callback.
type Watcher struct {
	mu     sync.RWMutex
	logger *slog.Logger

	watcher *fsnotify.Watcher
	path    string

	current *Config

	// Coalesces the burst of events editors produce on save
	debounce time.Duration
	timer    *time.Timer

	onReload func(cfg *Config)
	onError  func(err error)

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a Watcher for the config file at path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		path = ConfigPath()
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		logger:   logger,
		watcher:  fw,
		path:     path,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetDebounce sets how long to wait for further changes before reloading.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// SetReloadCallback sets the callback invoked with each successfully reloaded config.
func (w *Watcher) SetReloadCallback(callback func(cfg *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// SetErrorCallback sets the callback invoked when a changed config fails to load.
func (w *Watcher) SetErrorCallback(callback func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = callback
}

// Current returns the last valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching. initial is returned by Current until the first reload.
func (w *Watcher) Start(initial *Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	// Watch the directory, editors replace the file on save
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.running = true
	w.current = initial
	go w.watch()

	w.logger.Debug("config watcher started", "path", w.path)
	return nil
}

// Stop stops watching and waits for the watch loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
	w.logger.Debug("config watcher stopped")
	return w.watcher.Close()
}

func (w *Watcher) watch() {
	defer close(w.doneCh)

	filename := filepath.Base(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload loads and validates the config file.
func (w *Watcher) reload() {
	w.mu.RLock()
	running := w.running
	reloadCallback := w.onReload
	errorCallback := w.onError
	w.mu.RUnlock()

	if !running {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config file changed but validation failed", "path", w.path, "error", err)
		if errorCallback != nil {
			errorCallback(err)
		}
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	if reloadCallback != nil {
		reloadCallback(cfg)
	}
}
