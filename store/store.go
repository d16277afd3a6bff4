// Package store defines the durable configuration store contract and its
// implementations. The store is the owner of the four configuration
// kinds; everything in-process is a time-bounded advisory copy.
package store

import (
	"context"
	"sync"
	"time"
)

// Keys for the four configuration kinds.
const (
	KeyRestrictions   = "restrictions"
	KeyPaymentMethods = "payment-methods"
	KeyAiCrawlers     = "ai-crawlers"
	KeyFacilitator    = "facilitator"
)

// Store is a key-value store with per-entry expiry.
//
// Get returns the stored value and whether the key was present. Absence
// is a valid terminal state, not an error. Put replaces the value
// wholesale; a non-positive ttl stores the value without expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// now is overridable for expiry tests.
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes a key. Used by tests to simulate store truncation.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}
