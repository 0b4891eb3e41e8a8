package config

import (
	"fmt"
	"sync/atomic"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Manager holds the active configuration and swaps it on reload.
type Manager struct {
	path    string
	current atomic.Pointer[Config]
	logger  *zap.Logger
}

// LoadDotEnv loads variables from .env files into the environment. Missing
// files are ignored; variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// NewManager loads the configuration at path.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, logger: logger}
	m.current.Store(cfg)
	return m, nil
}

// NewStaticManager wraps an already built configuration. Reload re-reads
// path, which may be empty.
func NewStaticManager(cfg *Config, logger *zap.Logger) *Manager {
	m := &Manager{logger: logger}
	m.current.Store(cfg)
	return m
}

// Get returns the active configuration. Callers must not modify it.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Reload re-reads the configuration and swaps it in only if it is valid.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Error("Config reload rejected", zap.String("path", m.path), zap.Error(err))
		return fmt.Errorf("reload config: %w", err)
	}
	m.current.Store(cfg)
	m.logger.Info("Config reloaded", zap.String("path", m.path))
	return nil
}
