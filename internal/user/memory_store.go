// README: In-memory user store for tests and single-node setups.
package user

import (
	"context"
	"sync"

	"taxidispatch/internal/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[types.ID]User
	byPhone map[string]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[types.ID]User),
		byPhone: make(map[string]types.ID),
	}
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPhone[u.Phone]; ok {
		return ErrDuplicatePhone
	}
	s.byID[u.ID] = *u
	s.byPhone[u.Phone] = u.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := u
	return &out, nil
}

func (s *MemoryStore) GetByPhone(_ context.Context, phone string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.byID[id]
	out := u
	return &out, nil
}

func (s *MemoryStore) Update(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[u.ID]; !ok {
		return ErrNotFound
	}
	s.byID[u.ID] = *u
	return nil
}
