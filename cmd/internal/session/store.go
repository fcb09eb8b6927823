// Package session holds the client's login credential: the bearer token and the
// user it belongs to, persisted to a small JSON file between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

// ErrInvalidCredential is returned by Save for a credential without token or user id.
var ErrInvalidCredential = errors.New("session: credential needs a token and a user id")

// Credential is what login returns and what the chat client needs to connect.
type Credential struct {
	Token string  `json:"token"`
	User  v1.User `json:"user"`
}

// FileStore keeps the credential in memory and mirrors it to a file.
// It is safe for concurrent use.
type FileStore struct {
	path string

	mu  sync.RWMutex
	cur Credential
}

// DefaultPath is <user config dir>/lovechat/session.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("session: config dir: %w", err)
	}
	return filepath.Join(dir, "lovechat", "session.json"), nil
}

// Open loads the credential at path. A missing file is an empty (logged out) store.
func Open(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("session: empty path")
	}
	s := &FileStore{path: path}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &s.cur); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Token
}

func (s *FileStore) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.User.ID
}

func (s *FileStore) User() v1.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.User
}

// LoggedIn reports whether a token is held.
func (s *FileStore) LoggedIn() bool { return s.Token() != "" }

// Save replaces the credential and writes it with owner-only permissions.
func (s *FileStore) Save(c Credential) error {
	if strings.TrimSpace(c.Token) == "" || c.User.ID <= 0 {
		return ErrInvalidCredential
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, b); err != nil {
		return err
	}
	s.cur = c
	return nil
}

// Purge forgets the credential in memory and on disk.
func (s *FileStore) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = Credential{}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: remove %s: %w", s.path, err)
	}
	return nil
}

func writeFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("session: rename: %w", err)
	}
	return nil
}
