package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultNonceCapacity bounds the in-memory nonce store when no capacity is given.
const DefaultNonceCapacity = 10000

// MemoryNonceStore is a NonceStore for single-instance deployments. Entries
// live in a bounded LRU so a flood of distinct clients evicts the least
// recently issued nonces instead of growing without limit.
type MemoryNonceStore struct {
	mu      sync.Mutex // makes Peek+Remove one consume step
	entries *lru.Cache[string, NonceRecord]
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryNonceStore creates a store holding at most capacity nonces.
// A ttl of 0 disables expiry.
func NewMemoryNonceStore(capacity int, ttl time.Duration) (*MemoryNonceStore, error) {
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	entries, err := lru.New[string, NonceRecord](capacity)
	if err != nil {
		return nil, fmt.Errorf("create nonce cache: %w", err)
	}
	return &MemoryNonceStore{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// PutNonce stores a nonce keyed by clientKey. Overwrites any existing entry.
func (s *MemoryNonceStore) PutNonce(_ context.Context, clientKey, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(clientKey, NonceRecord{ClientKey: clientKey, Value: value, CreatedAt: s.now()})
	return nil
}

// ConsumeNonce removes and returns the nonce for clientKey. The entry is
// deleted on any lookup, expired or not.
func (s *MemoryNonceStore) ConsumeNonce(_ context.Context, clientKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries.Peek(clientKey)
	if !ok {
		return "", ErrNonceNotFound
	}
	s.entries.Remove(clientKey)
	if s.ttl > 0 && s.now().Sub(entry.CreatedAt) > s.ttl {
		return "", ErrNonceNotFound
	}
	return entry.Value, nil
}

// Len returns the number of outstanding nonces, including expired ones not yet consumed.
func (s *MemoryNonceStore) Len() int {
	return s.entries.Len()
}
