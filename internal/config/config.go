// Package config loads termbroker's configuration from
// ~/.termbroker/config.json, overridable by environment variables, and
// watches the file for changes so a running broker can pick up an
// updated frontend URL or API key without restarting.
//
// Grounded on the teacher's original config.go Load/Save/DefaultConfig
// shape, the keyring fallback idiom in
// deprecated/go-hub/internal/device/device.go (OS keyring in
// production, a plaintext escape hatch gated by an env var for tests),
// and elleryfamilia-thicc/internal/filemanager/watcher.go's
// fsnotify.Watcher + debounce-timer event loop.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "termbroker"
	keyringUser    = "api-key"
)

// Config holds termbroker's runtime configuration.
type Config struct {
	// FrontendURL is the base URL the RemoteConnection and remotestate
	// clients reach the relay/frontend at (e.g. "https://viberails.app").
	FrontendURL string `json:"frontend_url"`

	// APIKey authenticates outbound requests via the X-Api-Key header.
	// It is never serialized to config.json once the keyring is usable
	// (see Save/loadAPIKey); the field exists so a freshly loaded config
	// still carries a usable key at runtime.
	APIKey string `json:"api_key,omitempty"`

	// ForegroundCLI disables the LifecycleWatchdog (spec.md §4.11).
	ForegroundCLI bool `json:"foreground_cli"`

	// MaxTabs is loaded and saved with the rest of the config. The host
	// subcommand does not read it; it takes its tab limit from --max-tabs.
	MaxTabs int `json:"max_tabs"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FrontendURL: "https://viberails.app",
		MaxTabs:     8,
	}
}

// Dir returns the termbroker config directory, honoring
// TERMBROKER_CONFIG_DIR for tests.
func Dir() (string, error) {
	if dir := os.Getenv("TERMBROKER_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".termbroker"), nil
}

// Path returns the path to config.json.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

func skipKeyring() bool {
	skip, _ := strconv.ParseBool(os.Getenv("TERMBROKER_SKIP_KEYRING"))
	return skip || os.Getenv("TERMBROKER_CONFIG_DIR") != ""
}

// Load reads configuration from file and environment variables. The API
// key, if not overridden by TERMBROKER_API_KEY, is resolved from the OS
// keyring (or, in test mode, a config-dir file) rather than the JSON
// body.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := Path()
	if err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	if key, err := loadAPIKey(); err == nil && key != "" {
		cfg.APIKey = key
	}

	if url := os.Getenv("TERMBROKER_FRONTEND_URL"); url != "" {
		cfg.FrontendURL = url
	}
	if key := os.Getenv("TERMBROKER_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if v := os.Getenv("TERMBROKER_FOREGROUND_CLI"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ForegroundCLI = b
		}
	}

	return cfg, nil
}

// Save persists cfg to config.json. The API key is stored via the
// keyring (or the test-mode file) rather than in the JSON body.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	if c.APIKey != "" {
		if err := storeAPIKey(c.APIKey); err != nil {
			return err
		}
	}

	onDisk := *c
	onDisk.APIKey = ""
	data, err := json.MarshalIndent(&onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}
	return nil
}

func apiKeyFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "api_key"), nil
}

func storeAPIKey(key string) error {
	if skipKeyring() {
		path, err := apiKeyFilePath()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(key), 0600)
	}
	if err := keyring.Set(keyringService, keyringUser, key); err != nil {
		return fmt.Errorf("storing api key in keyring: %w", err)
	}
	return nil
}

func loadAPIKey() (string, error) {
	if skipKeyring() {
		path, err := apiKeyFilePath()
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	key, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		return "", err
	}
	return key, nil
}

// HasAPIKey reports whether an API key is configured.
func (c *Config) HasAPIKey() bool {
	return c.APIKey != ""
}

// Store holds the current Config and reloads it from disk on change, so
// long-lived collaborators (RemoteConnection, remotestate.Client) can
// resolve the latest FrontendURL/APIKey lazily rather than capture a
// stale snapshot at construction time.
type Store struct {
	logger *slog.Logger

	mu  sync.RWMutex
	cfg *Config

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewStore loads the current configuration and begins watching its file
// for changes. The returned Store must be closed with Close.
func NewStore(logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	s := &Store{logger: logger, cfg: cfg, stop: make(chan struct{})}

	path, err := Path()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config file watcher unavailable, hot-reload disabled", "error", err)
		return s, nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("watching config directory failed, hot-reload disabled", "error", err)
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop(path)

	return s, nil
}

// Current returns a copy of the currently loaded Config.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// Close stops the file watcher, if running.
func (s *Store) Close() {
	close(s.stop)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Store) watchLoop(path string) {
	var timer *time.Timer
	reload := func() {
		cfg, err := Load()
		if err != nil {
			s.logger.Warn("reloading config after file change failed", "error", err)
			return
		}
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()
		s.logger.Info("config reloaded", "frontend_url", cfg.FrontendURL)
	}

	for {
		select {
		case <-s.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, reload)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watcher error", "error", err)
		}
	}
}
