package registry

import (
	"context"
	"sync"
	"time"

	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
)

// InMemoryStore keeps the uniqueness ledger in a map. It backs unit tests
// and local development without PostgreSQL.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.NationalID]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.NationalID]Entry)}
}

func (s *InMemoryStore) Find(_ context.Context, nationalID id.NationalID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[nationalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &entry, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	s.entries[entry.NationalID] = entry
	return nil
}
