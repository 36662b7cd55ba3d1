package config

import (
	"sync/atomic"
)

// Manager serves the live configuration to pipeline components. Reload
// swaps the pointer atomically; callers capture a snapshot per operation
// and never observe a half-applied config.
type Manager struct {
	current atomic.Pointer[Config]
	path    string
}

// NewManager wraps an already loaded configuration.
func NewManager(cfg *Config) *Manager {
	m := &Manager{}
	m.current.Store(cfg)
	return m
}

// NewManagerFromFile loads path and remembers it for later Reload calls.
func NewManagerFromFile(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := NewManager(cfg)
	m.path = path
	return m, nil
}

// Current returns the live snapshot. The returned value must be treated
// as read-only.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Swap installs a new configuration and returns the previous one.
func (m *Manager) Swap(cfg *Config) *Config {
	return m.current.Swap(cfg)
}

// Reload re-reads the file the manager was created from. The swap happens
// only after a successful parse, so a broken file on disk leaves the live
// config untouched.
func (m *Manager) Reload() (*Config, []Problem, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, nil, err
	}
	problems := cfg.Validate()
	m.current.Store(cfg)
	return cfg, problems, nil
}
