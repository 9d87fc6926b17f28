// Package credentials persists the session token and user profile the
// realtime client and dashboard authenticate with.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbocsi/carelink/proto"
)

type Profile struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type record struct {
	Token string   `json:"token,omitempty"`
	User  *Profile `json:"user,omitempty"`
}

// Store is a file-backed key-value store for the auth token and profile.
// A Store with an empty path keeps everything in memory.
type Store struct {
	path string
	now  func() time.Time

	mu  sync.RWMutex
	rec record
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &s.rec); err != nil {
		return nil, fmt.Errorf("invalid credentials file %s: %w", path, err)
	}
	return s, nil
}

func NewMemoryStore() *Store {
	s, _ := Open("")
	return s
}

// Token returns the stored token, or the guest sentinel when none is set.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rec.Token == "" {
		return proto.GuestToken
	}
	return s.rec.Token
}

func (s *Store) Profile() (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rec.User == nil {
		return Profile{}, false
	}
	return *s.rec.User, true
}

func (s *Store) Save(token string, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = record{Token: token, User: profile}
	return s.persist()
}

// Clear forgets the token and profile (logout).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = record{}
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// Authenticated reports whether a usable session token is present. JWTs are
// inspected for expiry without verifying the signature; that is the
// backend's job. Opaque tokens count as present.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	token := s.rec.Token
	s.mu.RUnlock()

	if token == "" || token == proto.GuestToken {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(s.now()) {
		return false
	}
	return true
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}
