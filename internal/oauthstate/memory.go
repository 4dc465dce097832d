// memory.go is the in-process state store used when Redis is not configured.
// Suitable for a single instance; multi-instance deployments need the Redis
// store so a callback can land on any replica.
package oauthstate

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   Payload
	expiresAt time.Time
}

// MemoryStore keeps pending state tokens in a map. Expired entries are dropped
// lazily on Consume and in bulk by PruneExpired.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     TTL,
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, state string, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state] = memoryEntry{payload: p, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, state string) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[state]
	if !ok {
		return Payload{}, ErrStateInvalid
	}
	delete(s.entries, state)
	if s.now().After(e.expiresAt) {
		return Payload{}, ErrStateInvalid
	}
	return e.payload, nil
}

// PruneExpired removes tokens whose TTL has lapsed and reports how many were
// dropped. Run periodically so abandoned flows do not accumulate.
func (s *MemoryStore) PruneExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	pruned := 0
	for state, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, state)
			pruned++
		}
	}
	return pruned
}
