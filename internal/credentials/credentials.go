// Package credentials persists the agent's bearer token with owner-only
// file permissions. The WORKSPACE_TOKEN environment variable overrides
// the stored file so headless and CI runs never touch disk.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// EnvToken is the environment override for the stored credential.
const EnvToken = "WORKSPACE_TOKEN"

// expiryBuffer keeps a safety margin so a token is treated as expired
// slightly before the server would reject it.
const expiryBuffer = 5 * time.Minute

// Credentials is the persisted credential record.
type Credentials struct {
	AccessToken string     `json:"accessToken"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Valid reports whether the credential exists and is not within the
// expiry buffer. A credential without an expiry never self-invalidates.
func (c *Credentials) Valid() bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt == nil {
		return true
	}
	return time.Now().Add(expiryBuffer).Before(*c.ExpiresAt)
}

// DefaultPath returns the per-user credential file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "workspaced", "credentials.json"), nil
	default:
		return filepath.Join(home, ".config", "workspaced", "credentials.json"), nil
	}
}

// Store reads and writes the credential file at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns the active credential. The environment override wins;
// otherwise the stored file is read. A missing file yields (nil, nil).
func (s *Store) Load() (*Credentials, error) {
	if token := os.Getenv(EnvToken); token != "" {
		return &Credentials{AccessToken: token}, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &creds, nil
}

// Save writes the credential with owner-only permissions.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	raw, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear removes the stored credential. Clearing an absent file is not an
// error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
