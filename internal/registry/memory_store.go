// README: In-memory binding store for tests and single-node setups.
package registry

import (
	"context"
	"sync"

	"taxidispatch/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	bindings map[types.ID]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[types.ID]types.ID)}
}

func (s *MemoryStore) TryLock(_ context.Context, driverID, orderID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.bindings[driverID]; busy {
		return false, nil
	}
	s.bindings[driverID] = orderID
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, driverID, orderID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.bindings[driverID]; !ok || cur != orderID {
		return false, nil
	}
	delete(s.bindings, driverID)
	return true, nil
}

func (s *MemoryStore) Current(_ context.Context, driverID types.ID) (types.ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orderID, ok := s.bindings[driverID]
	return orderID, ok, nil
}
