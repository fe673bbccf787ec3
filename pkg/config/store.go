package config

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Store holds the current Config. Readers call Load and get an immutable
// snapshot; a reload swaps in a new snapshot atomically.
type Store struct {
	current atomic.Pointer[Config]

	mu        sync.Mutex
	v         *viper.Viper
	logger    *logrus.Logger
	listeners []func(*Config)
}

// NewStore wraps an already loaded Config. The store cannot reload.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// LoadStore loads cfgFile and returns a Store able to reload it.
func LoadStore(cfgFile string, logger *logrus.Logger) (*Store, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	s := &Store{v: v, logger: logger}
	s.current.Store(cfg)
	return s, nil
}

// Load returns the current snapshot.
func (s *Store) Load() *Config {
	return s.current.Load()
}

// Swap installs cfg and returns the previous snapshot. Listeners run
// synchronously after the swap.
func (s *Store) Swap(cfg *Config) *Config {
	old := s.current.Swap(cfg)
	s.mu.Lock()
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return old
}

// OnChange registers fn to be called with every new snapshot.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ConfigFile returns the file the store was loaded from, if any.
func (s *Store) ConfigFile() string {
	if s.v == nil {
		return ""
	}
	return s.v.ConfigFileUsed()
}

// Reload re-reads the configuration file. On error the current snapshot
// is kept.
func (s *Store) Reload() error {
	if s.v == nil {
		return fmt.Errorf("store was not loaded from a file")
	}
	s.mu.Lock()
	if err := s.v.ReadInConfig(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error reading config file: %w", err)
	}
	s.mu.Unlock()
	return s.apply()
}

func (s *Store) apply() error {
	s.mu.Lock()
	cfg, err := decode(s.v)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.Swap(cfg)
	return nil
}

// Watch reloads the snapshot whenever the configuration file changes.
// Invalid edits are logged and ignored. Watch does nothing when no file
// was loaded.
func (s *Store) Watch() {
	file := s.ConfigFile()
	if file == "" {
		return
	}
	if _, err := os.Stat(file); err != nil {
		s.logger.WithField("file", file).Warnf("Not watching configuration: %v", err)
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if err := s.apply(); err != nil {
			s.logger.WithField("file", e.Name).Errorf("Ignoring configuration change: %v", err)
			return
		}
		s.logger.WithField("file", e.Name).Info("Configuration reloaded")
	})
	s.v.WatchConfig()
}
