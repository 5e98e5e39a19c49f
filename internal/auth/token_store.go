package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no token has been stored for a user
var ErrNoToken = errors.New("no oauth token stored for user")

// TokenStore persists OAuth tokens per user
type TokenStore interface {
	Load(userID string) (*oauth2.Token, error)
	Save(userID string, token *oauth2.Token) error
}

// FileTokenStore keeps one JSON token file per user under a directory
type FileTokenStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileTokenStore creates a new file-backed token store
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{dir: dir}
}

func (s *FileTokenStore) path(userID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, userID)
	return filepath.Join(s.dir, safe+".json")
}

// Load reads the stored token for a user
func (s *FileTokenStore) Load(userID string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &token, nil
}

// Save writes a user's token with owner-only permissions
func (s *FileTokenStore) Save(userID string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(userID), data, 0o600)
}

// MemoryTokenStore holds tokens in memory
type MemoryTokenStore struct {
	tokens map[string]*oauth2.Token
	mu     sync.RWMutex
}

// NewMemoryTokenStore creates a new in-memory token store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*oauth2.Token)}
}

// Load implements TokenStore
func (s *MemoryTokenStore) Load(userID string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[userID]
	if !ok {
		return nil, ErrNoToken
	}
	copied := *token
	return &copied, nil
}

// Save implements TokenStore
func (s *MemoryTokenStore) Save(userID string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *token
	s.tokens[userID] = &copied
	return nil
}
