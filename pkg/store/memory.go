package store

import (
	"context"
	"sort"
	"sync"

	"github.com/loftcall/loftcall/pkg/core/session"
)

// MemoryStore is the in-process SessionStore used in tests and
// single-node deployments without Redis.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]session.Summary
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]session.Summary{}}
}

// Save implements SessionStore.
func (s *MemoryStore) Save(_ context.Context, sum session.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sum.SessionID] = sum
	return nil
}

// Get implements SessionStore.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (session.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.data[sessionID]
	if !ok {
		return session.Summary{}, ErrNotFound
	}
	return sum, nil
}

// List implements SessionStore.
func (s *MemoryStore) List(_ context.Context) ([]session.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Summary, 0, len(s.data))
	for _, sum := range s.data {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Delete implements SessionStore.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}
