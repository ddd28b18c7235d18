// README: Geo index service: location reports, availability, proximity queries.
package geo

import (
	"context"
	"sort"
	"time"

	"taxidispatch/internal/types"
)

// Users is the slice of the user service the geo index needs.
type Users interface {
	IsActiveDriver(ctx context.Context, id types.ID) (bool, error)
}

// Store is the persistence contract; satisfied by the Redis store and the
// in-memory store.
type Store interface {
	Upsert(ctx context.Context, loc DriverLocation) error
	SetAvailability(ctx context.Context, id types.ID, available bool) error
	Get(ctx context.Context, id types.ID) (*DriverLocation, error)
	// AvailableWithin returns available drivers within radiusKm of p, in any
	// order; the service does the deterministic ranking.
	AvailableWithin(ctx context.Context, p types.Point, radiusKm float64) ([]DriverLocation, error)
}

type Service struct {
	store Store
	users Users
}

func NewService(store Store, users Users) *Service {
	return &Service{store: store, users: users}
}

// ReportLocation overwrites the driver's current position and availability.
func (s *Service) ReportLocation(ctx context.Context, driverID types.ID, p types.Point, available bool) error {
	ok, err := s.users.IsActiveDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownDriver
	}
	return s.store.Upsert(ctx, DriverLocation{
		DriverID:  driverID,
		Position:  p,
		Available: available,
		UpdatedAt: time.Now().UTC(),
	})
}

// SetAvailability is the explicit online/offline toggle, independent of
// position reporting.
func (s *Service) SetAvailability(ctx context.Context, driverID types.ID, available bool) error {
	ok, err := s.users.IsActiveDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownDriver
	}
	return s.store.SetAvailability(ctx, driverID, available)
}

// Availability reports whether the driver is currently flagged available.
// Drivers with no location record are offline.
func (s *Service) Availability(ctx context.Context, driverID types.ID) (bool, error) {
	loc, err := s.store.Get(ctx, driverID)
	if err == ErrUnknownDriver {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return loc.Available, nil
}

// NearestAvailable returns available drivers within radiusKm of p, sorted by
// ascending great-circle distance, ties broken by driver id, truncated to
// limit. Empty result when none qualify.
func (s *Service) NearestAvailable(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	locs, err := s.store.AvailableWithin(ctx, p, radiusKm)
	if err != nil {
		return nil, err
	}

	out := make([]Nearby, 0, len(locs))
	for _, loc := range locs {
		d := haversineKm(p.Lat, p.Lng, loc.Position.Lat, loc.Position.Lng)
		if d <= radiusKm {
			out = append(out, Nearby{DriverID: loc.DriverID, Position: loc.Position, Distance: d})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].DriverID < out[j].DriverID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
