// README: In-memory geo store for tests and single-node setups.
package geo

import (
	"context"
	"sync"

	"taxidispatch/internal/types"
)

type MemoryStore struct {
	mu   sync.RWMutex
	locs map[types.ID]DriverLocation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locs: make(map[types.ID]DriverLocation)}
}

func (s *MemoryStore) Upsert(_ context.Context, loc DriverLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locs[loc.DriverID] = loc
	return nil
}

func (s *MemoryStore) SetAvailability(_ context.Context, id types.ID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locs[id]
	if !ok {
		return ErrUnknownDriver
	}
	loc.Available = available
	s.locs[id] = loc
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*DriverLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locs[id]
	if !ok {
		return nil, ErrUnknownDriver
	}
	out := loc
	return &out, nil
}

func (s *MemoryStore) AvailableWithin(_ context.Context, p types.Point, radiusKm float64) ([]DriverLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DriverLocation
	for _, loc := range s.locs {
		if !loc.Available {
			continue
		}
		if haversineKm(p.Lat, p.Lng, loc.Position.Lat, loc.Position.Lng) <= radiusKm {
			out = append(out, loc)
		}
	}
	return out, nil
}
