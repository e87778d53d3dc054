package privacy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

const tokenPrefix = "tok_"

var (
	// ErrTokenNotFound is returned for unknown or evicted tokens
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenCollision is returned when a token already maps to a different value
	ErrTokenCollision = errors.New("token collision")
)

// TokenEntry maps a reversible token back to the value it replaced
type TokenEntry struct {
	Token         string    `json:"token"`
	OriginalValue string    `json:"original_value"`
	FieldName     string    `json:"field_name"`
	Timestamp     time.Time `json:"timestamp"`
}

// TokenStore persists token mappings. Implementations must be safe for
// concurrent use.
type TokenStore interface {
	// Put stores entry. Re-issuing a token for the same value refreshes its
	// timestamp; a different value under the same token is ErrTokenCollision.
	Put(ctx context.Context, entry TokenEntry) error
	// Get returns the entry or ErrTokenNotFound
	Get(ctx context.Context, token string) (TokenEntry, error)
	// Delete removes a token, missing tokens are not an error
	Delete(ctx context.Context, token string) error
	// PurgeBefore evicts entries whose timestamp is before cutoff
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Len returns the number of stored entries
	Len(ctx context.Context) (int, error)
}

// TokenFor derives the deterministic token for value
func TokenFor(value string) string {
	sum := sha256.Sum256([]byte(value))
	return tokenPrefix + hex.EncodeToString(sum[:8])
}

// IsToken reports whether s has the token shape
func IsToken(s string) bool {
	if len(s) != len(tokenPrefix)+16 || s[:len(tokenPrefix)] != tokenPrefix {
		return false
	}
	for _, r := range s[len(tokenPrefix):] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// MemoryTokenStore keeps tokens in a map
type MemoryTokenStore struct {
	mu      sync.RWMutex
	entries map[string]TokenEntry
}

// NewMemoryTokenStore creates an empty in-memory store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]TokenEntry)}
}

// Put implements TokenStore
func (s *MemoryTokenStore) Put(_ context.Context, entry TokenEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[entry.Token]; ok {
		if existing.OriginalValue != entry.OriginalValue {
			return ErrTokenCollision
		}
		existing.Timestamp = entry.Timestamp
		s.entries[entry.Token] = existing
		return nil
	}
	s.entries[entry.Token] = entry
	return nil
}

// Get implements TokenStore
func (s *MemoryTokenStore) Get(_ context.Context, token string) (TokenEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[token]
	if !ok {
		return TokenEntry{}, ErrTokenNotFound
	}
	return entry, nil
}

// Delete implements TokenStore
func (s *MemoryTokenStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
	return nil
}

// PurgeBefore implements TokenStore
func (s *MemoryTokenStore) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, entry := range s.entries {
		if entry.Timestamp.Before(cutoff) {
			delete(s.entries, token)
			n++
		}
	}
	return n, nil
}

// Len implements TokenStore
func (s *MemoryTokenStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
