package logging

import (
	"errors"
	"fmt"
	"sync"
)

var (
	defaultManager *Manager
	once           sync.Once
)

// Manager owns the set of named loggers and their shared configuration.
type Manager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	config  *Config
}

// NewManager builds a manager with a default logger.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Manager{
		loggers: make(map[string]*Logger),
		config:  config,
	}

	defaultLogger, err := NewLogger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create default logger: %w", err)
	}
	m.loggers["default"] = defaultLogger

	return m, nil
}

// GetManager returns the process-wide manager, creating it on first use.
func GetManager() *Manager {
	once.Do(func() {
		defaultManager, _ = NewManager(DefaultConfig())
	})
	return defaultManager
}

// GetLogger returns the named logger, creating it on demand.
func (m *Manager) GetLogger(name string) (*Logger, error) {
	m.mu.RLock()
	logger, exists := m.loggers[name]
	m.mu.RUnlock()

	if exists {
		return logger, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if logger, exists := m.loggers[name]; exists {
		return logger, nil
	}

	logger, err := NewLogger(m.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger %s: %w", name, err)
	}

	if name != "default" {
		logger = logger.With("module", name)
	}

	m.loggers[name] = logger
	return logger, nil
}

// UpdateConfig re-levels every existing logger.
func (m *Manager) UpdateConfig(config *Config) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = config
	for _, logger := range m.loggers {
		logger.UpdateLevel(config.Level)
	}

	return nil
}

// GetLogger returns a named logger from the default manager, falling back to
// the default logger when creation fails.
func GetLogger(name string) *Logger {
	m := GetManager()
	logger, err := m.GetLogger(name)
	if err != nil {
		logger, _ = m.GetLogger("default")
		logger.Error("Failed to get logger", "requested_name", name, "error", err)
	}
	return logger
}

// Default returns the default logger.
func Default() *Logger {
	return GetLogger("default")
}
