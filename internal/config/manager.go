package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"armctl/internal/logging"
)

// Manager owns the loaded configuration and an optional file watcher that
// reloads it on modification. Watch callbacks fire on their own goroutines;
// subscribers that can only apply some fields (PID gains, logging level)
// pick what they need.
type Manager struct {
	path   string
	logger *logging.Logger

	mu           sync.RWMutex
	config       SystemConfig
	lastModified time.Time

	watchersMu sync.RWMutex
	watchers   []func(SystemConfig)

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	watching bool
}

func NewManager(path string) *Manager {
	return &Manager{
		path:   path,
		logger: logging.GetLogger("config"),
		config: Default(),
	}
}

// Load reads and validates the file at the manager's path. A missing file
// leaves the defaults in place.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("Config file not found, using defaults", "path", m.path)
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := Validate(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.mu.Lock()
	m.config = config
	m.lastModified = time.Now()
	m.mu.Unlock()

	m.logger.Info("Configuration loaded", "path", m.path)
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() SystemConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Save writes the given configuration to the manager's path and makes it
// current.
func (m *Manager) Save(config SystemConfig) error {
	if err := Validate(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.mu.Lock()
	m.config = config
	m.lastModified = time.Now()
	m.mu.Unlock()

	m.notify()
	m.logger.Info("Configuration saved", "path", m.path)
	return nil
}

// Watch registers a callback invoked after every successful reload.
func (m *Manager) Watch(callback func(SystemConfig)) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	m.watchers = append(m.watchers, callback)
}

// StartWatching polls the file's modification time once per second and
// reloads on change. Reload failures keep the previous configuration.
func (m *Manager) StartWatching(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watching {
		return fmt.Errorf("config watcher is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.watching = true

	m.wg.Add(1)
	go m.watchFile(runCtx)

	m.logger.Info("Watching config file", "path", m.path)
	return nil
}

// StopWatching halts the watcher.
func (m *Manager) StopWatching() error {
	m.mu.Lock()
	if !m.watching {
		m.mu.Unlock()
		return fmt.Errorf("config watcher is not running")
	}
	m.cancel()
	m.watching = false
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *Manager) watchFile(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkChanges()
		}
	}
}

func (m *Manager) checkChanges() {
	info, err := os.Stat(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Error("Failed to stat config file", "error", err)
		}
		return
	}

	m.mu.RLock()
	modified := info.ModTime().After(m.lastModified)
	m.mu.RUnlock()
	if !modified {
		return
	}

	m.logger.Info("Config file modified, reloading")
	if err := m.Load(); err != nil {
		m.logger.Error("Failed to reload config, keeping previous", "error", err)
		return
	}
	m.notify()
}

func (m *Manager) notify() {
	m.watchersMu.RLock()
	watchers := make([]func(SystemConfig), len(m.watchers))
	copy(watchers, m.watchers)
	m.watchersMu.RUnlock()

	config := m.Get()
	for _, watcher := range watchers {
		go watcher(config)
	}
}
