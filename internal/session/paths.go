// Package session manages client profiles: where their files live, how the
// active profile is resolved, and the persisted viewer identity.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.mavis.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mavis")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the single-instance lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// UserPath returns the persisted identity file path for a profile.
func UserPath(name string) string {
	return filepath.Join(Dir(name), "user.json")
}

// OutboxDBPath returns the profile's outbox database path.
func OutboxDBPath(name string) string {
	return filepath.Join(Dir(name), "outbox.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "mavis.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
