// README: Driver registry: exclusive driver→order bindings.
package registry

import (
	"context"
	"errors"
	"fmt"

	"taxidispatch/internal/geo"
	"taxidispatch/internal/types"
)

var (
	ErrDriverBusy    = errors.New("driver already holds an order")
	ErrDriverOffline = errors.New("driver not available")
)

// Geo is the slice of the geo index the registry needs: the availability flag
// it flips when a binding is taken or released.
type Geo interface {
	Availability(ctx context.Context, driverID types.ID) (bool, error)
	SetAvailability(ctx context.Context, driverID types.ID, available bool) error
}

// Store holds the driver→order bindings. TryLock must be atomic: exactly one
// of any set of concurrent callers for the same driver wins. Release is a
// compare-and-delete: it removes the binding only while it still points at
// orderID, and reports whether it did.
type Store interface {
	TryLock(ctx context.Context, driverID, orderID types.ID) (bool, error)
	Release(ctx context.Context, driverID, orderID types.ID) (bool, error)
	Current(ctx context.Context, driverID types.ID) (types.ID, bool, error)
}

type Service struct {
	store Store
	geo   Geo
}

func NewService(store Store, g Geo) *Service {
	return &Service{store: store, geo: g}
}

// Lock binds the driver to the order. At most one non-terminal order per
// driver at any instant; the binding plus the ledger's CAS jointly enforce
// the single-binding invariant.
func (s *Service) Lock(ctx context.Context, driverID, orderID types.ID) error {
	available, err := s.geo.Availability(ctx, driverID)
	if err != nil {
		return err
	}
	if !available {
		return ErrDriverOffline
	}

	ok, err := s.store.TryLock(ctx, driverID, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDriverBusy
	}

	// A locked driver stops appearing in proximity queries.
	if err := s.geo.SetAvailability(ctx, driverID, false); err != nil {
		if _, relErr := s.store.Release(ctx, driverID, orderID); relErr != nil {
			return fmt.Errorf("flipping availability (release also failed: %v): %w", relErr, err)
		}
		return err
	}
	return nil
}

// Release clears the driver's binding to orderID; called when that order
// leaves the driver. Scoped to the order so that a duplicate release, or one
// arriving after the driver was already re-locked to a newer order, is a
// no-op instead of destroying the fresh binding. Only an actual removal
// flips the driver back to available.
func (s *Service) Release(ctx context.Context, driverID, orderID types.ID) error {
	released, err := s.store.Release(ctx, driverID, orderID)
	if err != nil {
		return err
	}
	if !released {
		return nil
	}
	err = s.geo.SetAvailability(ctx, driverID, true)
	if errors.Is(err, geo.ErrUnknownDriver) {
		// Position record expired while the driver was on a trip; they come
		// back online with their next location report.
		return nil
	}
	return err
}

// CurrentOrder returns the order the driver is bound to, if any.
func (s *Service) CurrentOrder(ctx context.Context, driverID types.ID) (types.ID, bool, error) {
	return s.store.Current(ctx, driverID)
}
