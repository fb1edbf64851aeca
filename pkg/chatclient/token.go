package chatclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenStore holds the bearer token persisted between runs. Init loads it and
// Clear removes it; nothing reads the file behind the store's back.
type TokenStore struct {
	path string

	mu    sync.RWMutex
	token string
}

// DefaultTokenPath is ~/.staffdesk/token.
func DefaultTokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not resolve home directory: %w", err)
	}
	return filepath.Join(home, ".staffdesk", "token"), nil
}

// NewTokenStore creates a store backed by path, or by DefaultTokenPath when
// path is empty.
func NewTokenStore(path string) (*TokenStore, error) {
	if path == "" {
		p, err := DefaultTokenPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &TokenStore{path: path}, nil
}

// Path is the file backing the store.
func (t *TokenStore) Path() string { return t.path }

// Init loads the stored token. A missing file leaves the store empty.
func (t *TokenStore) Init() error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read token: %w", err)
	}

	t.mu.Lock()
	t.token = strings.TrimSpace(string(data))
	t.mu.Unlock()
	return nil
}

// Token returns the loaded token, or "" when none is stored.
func (t *TokenStore) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Save persists token, readable by the current user only.
func (t *TokenStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	if err := os.WriteFile(t.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("could not write token: %w", err)
	}

	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
	return nil
}

// Clear forgets the token and removes the file.
func (t *TokenStore) Clear() error {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()

	if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not remove token: %w", err)
	}
	return nil
}
