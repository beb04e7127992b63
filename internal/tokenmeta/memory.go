package tokenmeta

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	metas map[string]Meta
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{metas: make(map[string]Meta)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metas[userID]
	if !ok {
		return Meta{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) Put(_ context.Context, m Meta) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[m.UserID] = m
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metas, userID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
