package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and dev runs without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryStore creates an empty in-memory delay store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

// Schedule implements Store.
func (s *MemoryStore) Schedule(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.AgentID] = e.WakeAt
	}
	return nil
}

// Due implements Store.
func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Entry
	for id, at := range s.entries {
		if !at.After(now) {
			due = append(due, Entry{AgentID: id, WakeAt: at})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].WakeAt.Equal(due[j].WakeAt) {
			return due[i].AgentID < due[j].AgentID
		}
		return due[i].WakeAt.Before(due[j].WakeAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, agentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range agentIDs {
		delete(s.entries, id)
	}
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
