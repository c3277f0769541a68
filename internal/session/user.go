package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// MaxIdle is how long a stored session stays usable without activity
// before the client forces a fresh login.
const MaxIdle = 30 * time.Minute

// ErrNotLoggedIn is returned when no identity is stored for the profile.
var ErrNotLoggedIn = errors.New("not logged in")

// ErrSessionExpired is returned when the stored identity has been idle
// longer than MaxIdle. The token may still be valid server-side; the client
// does not trust it.
var ErrSessionExpired = errors.New("stored session expired")

// User is the viewer identity persisted per profile after authentication.
// PartnerID is cached after the first get_session_info resolution; zero
// means not yet resolved.
type User struct {
	UID       int64          `json:"uid"`
	Name      string         `json:"name"`
	SessionID string         `json:"session_id"`
	PartnerID int64          `json:"partner_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	LastSeen  time.Time      `json:"last_seen"`
}

// SaveUser persists the identity for a profile, stamping LastSeen.
func SaveUser(profile string, u *User) error {
	if err := EnsureDir(profile); err != nil {
		return err
	}
	u.LastSeen = time.Now()
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(UserPath(profile), data, 0600)
}

// LoadUser reads the stored identity for a profile. ErrNotLoggedIn when
// nothing is stored, ErrSessionExpired when the identity is stale.
func LoadUser(profile string) (*User, error) {
	data, err := os.ReadFile(UserPath(profile))
	if os.IsNotExist(err) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, err
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("corrupt user file: %w", err)
	}
	if u.SessionID == "" {
		return nil, ErrNotLoggedIn
	}
	if time.Since(u.LastSeen) > MaxIdle {
		return nil, ErrSessionExpired
	}
	return &u, nil
}

// TouchUser refreshes the stored LastSeen so an active client keeps its
// session alive across restarts. Missing identity is not an error here.
func TouchUser(profile string) error {
	data, err := os.ReadFile(UserPath(profile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	return SaveUser(profile, &u)
}

// ClearUser removes the stored identity on logout.
func ClearUser(profile string) error {
	err := os.Remove(UserPath(profile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
