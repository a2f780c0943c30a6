package buzzsway

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// SessionTTL is how long a saved session stays valid before Load
// treats it as expired and discards it.
const SessionTTL = 7 * 24 * time.Hour

// storedSession is the on-disk form of a session.
type storedSession struct {
	UserID    string `toml:"user_id"`
	Username  string `toml:"username"`
	Token     string `toml:"token"`
	SavedAt   string `toml:"saved_at"`
	ExpiresAt string `toml:"expires_at"`
}

// SessionStore persists the authenticated session to a TOML file so
// the CLI survives process restarts.
type SessionStore struct {
	path string
}

// NewSessionStore creates a store backed by the given file path. The
// parent directory is created on first save.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// DefaultSessionStore returns a store at ~/.buzzsway/session.toml.
func DefaultSessionStore() (*SessionStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}
	return NewSessionStore(filepath.Join(home, ".buzzsway", "session.toml")), nil
}

// Path returns the backing file path.
func (s *SessionStore) Path() string { return s.path }

// Save writes the session with a fresh expiry stamp.
func (s *SessionStore) Save(session *Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("cannot create session directory: %w", err)
	}
	now := time.Now().UTC()
	data, err := toml.Marshal(storedSession{
		UserID:    session.UserID,
		Username:  session.Username,
		Token:     session.Token,
		SavedAt:   now.Format(time.RFC3339),
		ExpiresAt: now.Add(SessionTTL).Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("cannot marshal session: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write session: %w", err)
	}
	return nil
}

// Load reads the saved session. It returns (nil, nil) when no session
// exists or the saved one has expired; an expired file is removed.
func (s *SessionStore) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read session: %w", err)
	}
	var stored storedSession
	if err := toml.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("cannot parse session: %w", err)
	}
	if stored.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, stored.ExpiresAt)
		if err != nil || !time.Now().Before(expires) {
			_ = s.Clear()
			return nil, nil
		}
	}
	return &Session{
		UserID:   stored.UserID,
		Username: stored.Username,
		Token:    stored.Token,
	}, nil
}

// Clear removes the saved session. Missing files are not an error.
func (s *SessionStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove session: %w", err)
	}
	return nil
}
