package statestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps state in process memory.
// Useful for testing and development only.
//
// WARNING: NOT suitable for multi-replica deployments. A callback that lands on
// another replica will not find its state. Use DBStore or RedisStore instead.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, entry *Entry) error {
	if entry.State == "" {
		return errors.New("state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)
	if entry.Expired(now) {
		return fmt.Errorf("state %q already expired", entry.State)
	}
	if _, exists := s.entries[entry.State]; exists {
		return fmt.Errorf("state %q already exists", entry.State)
	}
	copied := *entry
	s.entries[entry.State] = &copied
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, state string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return nil, nil
	}
	delete(s.entries, state)
	if entry.Expired(s.now()) {
		return nil, nil
	}
	return entry, nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// prune drops expired entries. Caller holds mu.
func (s *MemoryStore) prune(now time.Time) {
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
		}
	}
}
