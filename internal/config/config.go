package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.mavis/config.toml.
type Config struct {
	// ServerURL is the backend base URL, e.g. "https://chat.example.com".
	ServerURL string `toml:"server_url"`
	// Database is the backend database name passed to authenticate.
	Database string `toml:"database"`
	// DefaultProfile names the profile used when --profile is not given.
	DefaultProfile string `toml:"default_profile"`
	// HistoryLimit is how many messages the initial history fetch requests.
	HistoryLimit int `toml:"history_limit"`
	// PollTimeoutSeconds is the client-side deadline on one long-poll call.
	// It must exceed the server's hold time or every idle cycle looks like
	// a failure.
	PollTimeoutSeconds int `toml:"poll_timeout_seconds"`
	// PollBackoffSeconds is the fixed delay before retrying a failed poll.
	PollBackoffSeconds int `toml:"poll_backoff_seconds"`
}

// Defaults fills unset tuning fields. The 65s poll deadline sits above the
// backend's 50-60s hold window.
func (c *Config) Defaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.PollTimeoutSeconds <= 0 {
		c.PollTimeoutSeconds = 65
	}
	if c.PollBackoffSeconds <= 0 {
		c.PollBackoffSeconds = 2
	}
}

// PollTimeout returns the poll deadline as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// PollBackoff returns the retry delay as a duration.
func (c *Config) PollBackoff() time.Duration {
	return time.Duration(c.PollBackoffSeconds) * time.Second
}

// Load reads config from the given path and applies defaults. Returns an
// error if the file is missing or unparsable.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.Defaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
