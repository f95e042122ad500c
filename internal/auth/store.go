package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
	"golang.org/x/oauth2"
)

// ErrNoCredential is returned by Store.Load when nothing has been persisted yet.
var ErrNoCredential = errors.New("no stored credential")

// Store persists the provider credential between runs.
type Store interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

// FileStore keeps the credential as JSON in a single file. There is no locking:
// overlapping runs may race on refresh and the last writer wins.
type FileStore struct {
	Path string
}

func (s FileStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("read credential: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode credential %q: %w", s.Path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoCredential
	}
	return &tok, nil
}

// Save replaces the file atomically (write temp + rename).
func (s FileStore) Save(tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("save credential: nil token")
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := renameio.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return nil
}

// MemoryStore is a process-local Store, handy for tests and one-off runs.
type MemoryStore struct {
	mu    sync.Mutex
	tok   *oauth2.Token
	Saves int
}

func (s *MemoryStore) Load() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return nil, ErrNoCredential
	}
	cp := *s.tok
	return &cp, nil
}

func (s *MemoryStore) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tok = &cp
	s.Saves++
	return nil
}
