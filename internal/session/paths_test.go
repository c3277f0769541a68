package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".mavis", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestUserPath(t *testing.T) {
	got := UserPath("test")
	if !strings.HasSuffix(got, filepath.Join("profiles", "test", "user.json")) {
		t.Errorf("UserPath(test) = %q, want suffix profiles/test/user.json", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("profiles", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix profiles/test/LOCK", got)
	}
}

func TestOutboxDBPath(t *testing.T) {
	got := OutboxDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("profiles", "test", "outbox.db")) {
		t.Errorf("OutboxDBPath(test) = %q, want suffix profiles/test/outbox.db", got)
	}
}
