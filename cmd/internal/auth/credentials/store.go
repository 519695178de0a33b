// Package credentials keeps the bearer and refresh tokens of the logged-in user.
//
// Tokens are obtained by the authentication flow, which lives outside the chat core.
// The store only holds them, hands them to the transport and the HTTP client, and
// replaces them after a refresh. When a path is configured the pair is mirrored to
// a 0600 JSON file so the CLI survives restarts.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Pair is an access/refresh token pair.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Store is a concurrency-safe credential holder.
type Store struct {
	mu   sync.RWMutex
	pair Pair
	path string
}

// NewStore returns an in-memory store seeded with pair.
func NewStore(pair Pair) *Store {
	return &Store{pair: normalize(pair)}
}

// Open loads credentials from path. A missing file yields an empty store bound to path.
// Values in seed win over the file when non-empty.
func Open(path string, seed Pair) (*Store, error) {
	s := &Store{path: strings.TrimSpace(path)}

	if s.path != "" {
		b, err := os.ReadFile(s.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("credentials: read %s: %w", s.path, err)
		default:
			var p Pair
			if err := json.Unmarshal(b, &p); err != nil {
				return nil, fmt.Errorf("credentials: decode %s: %w", s.path, err)
			}
			s.pair = normalize(p)
		}
	}

	seed = normalize(seed)
	if seed.Access != "" {
		s.pair.Access = seed.Access
	}
	if seed.Refresh != "" {
		s.pair.Refresh = seed.Refresh
	}
	return s, nil
}

// AccessToken returns the current bearer credential, or "" when logged out.
func (s *Store) AccessToken() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Access
}

// RefreshToken returns the current refresh credential, or "".
func (s *Store) RefreshToken() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Refresh
}

// Set replaces the pair and persists it when the store is file-backed.
func (s *Store) Set(p Pair) error {
	p = normalize(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = p
	return s.persistLocked()
}

// Clear drops both tokens (session expired or logout).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = Pair{}
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credentials: remove %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credentials: mkdir: %w", err)
	}
	b, err := json.Marshal(s.pair)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("credentials: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credentials: rename: %w", err)
	}
	return nil
}

func normalize(p Pair) Pair {
	return Pair{
		Access:  strings.TrimSpace(p.Access),
		Refresh: strings.TrimSpace(p.Refresh),
	}
}
