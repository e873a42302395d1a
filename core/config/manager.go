package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 200 * time.Millisecond

// Manager owns the live configuration. Readers get a consistent snapshot
// via Get; Load and the file watcher swap the snapshot atomically.
type Manager struct {
	path      string
	current   atomic.Pointer[Config]
	logger    *slog.Logger
	watchers  []func(*Config)
	watcherMu sync.RWMutex

	fsWatcher *fsnotify.Watcher
	stopOnce  sync.Once
	stopped   chan struct{}
}

// NewManager builds a manager over an optional config file path. An empty
// path means defaults plus environment only.
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:    path,
		logger:  logger,
		stopped: make(chan struct{}),
	}
	m.current.Store(Default())
	return m
}

// Get returns the current snapshot. The returned value must not be mutated.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load rebuilds the configuration from defaults, file, and environment, in
// that order, then publishes it and notifies change watchers.
func (m *Manager) Load() error {
	cfg := Default()

	if m.path != "" {
		if err := loadYAMLFile(m.path, cfg); err != nil {
			return fmt.Errorf("config file %s: %w", m.path, err)
		}
	}
	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	m.notifyWatchers(cfg)
	return nil
}

// OnChange registers a callback invoked after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

// Watch reloads the configuration whenever the config file changes. Watching
// the parent directory survives the rename-then-replace dance editors do.
// No-op when no config file was given.
func (m *Manager) Watch() error {
	if m.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}
	m.fsWatcher = watcher

	go m.processEvents()
	return nil
}

func (m *Manager) processEvents() {
	target := filepath.Clean(m.path)
	var debounce *time.Timer

	for {
		select {
		case <-m.stopped:
			return
		case event, ok := <-m.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, m.reload)
		case _, ok := <-m.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload applies a changed file; a bad edit keeps the last good snapshot.
func (m *Manager) reload() {
	if err := m.Load(); err != nil {
		m.logger.Error("config reload failed, keeping previous config", "error", err)
		return
	}
	m.logger.Info("config reloaded", "path", m.path)
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopped)
		if m.fsWatcher != nil {
			m.fsWatcher.Close()
		}
	})
	return nil
}
