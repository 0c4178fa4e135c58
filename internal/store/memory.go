package store

import (
	"context"
	"sync"

	"github.com/cloakshare/relay/internal/domain"
)

// MemoryStore keeps records in process. Good enough for a single relay
// instance; the interface is what matters.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[domain.SessionID]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.SessionID]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.SessionID) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}
