package intake

import (
	"context"
	"sort"
	"sync"
	"time"

	"taxidispatch/internal/types"
)

// MemoryStore keeps dispatcher calls in a map. Used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	calls map[types.ID]*DispatcherCall
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[types.ID]*DispatcherCall)}
}

func (s *MemoryStore) Create(ctx context.Context, c *DispatcherCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c.ID] = cloneCall(c)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*DispatcherCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, ErrCallMissing
	}
	return cloneCall(c), nil
}

func (s *MemoryStore) Update(ctx context.Context, c *DispatcherCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; !ok {
		return ErrCallMissing
	}
	s.calls[c.ID] = cloneCall(c)
	return nil
}

func (s *MemoryStore) CompleteByOrder(ctx context.Context, orderID types.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.OrderID == nil || *c.OrderID != orderID || c.Status == CallCompleted {
			continue
		}
		c.Status = CallCompleted
		t := at
		c.CompletedAt = &t
	}
	return nil
}

func (s *MemoryStore) ListOpen(ctx context.Context) ([]*DispatcherCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DispatcherCall
	for _, c := range s.calls {
		if c.Status != CallCompleted {
			out = append(out, cloneCall(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func cloneCall(c *DispatcherCall) *DispatcherCall {
	cp := *c
	if c.OrderID != nil {
		id := *c.OrderID
		cp.OrderID = &id
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
