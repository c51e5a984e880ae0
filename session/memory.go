package session

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/groupmesh/core"
)

// InMemoryStore is a volatile Store keeping archives in a process local
// map. Records are cloned on the way in and out so callers cannot mutate
// stored state.
type InMemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string][]core.Record
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{transcripts: make(map[string][]core.Record)}
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, id string, records []core.Record) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[id] = cloneRecords(records)
	return nil
}

// Load implements Store.
func (s *InMemoryStore) Load(_ context.Context, id string) ([]core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.transcripts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecords(records), nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[id]; !ok {
		return ErrNotFound
	}
	delete(s.transcripts, id)
	return nil
}

// List implements Store. IDs are sorted.
func (s *InMemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.transcripts))
	for id := range s.transcripts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
