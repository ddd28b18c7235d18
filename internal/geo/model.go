// README: Geo index models: live driver positions and availability.
package geo

import (
	"errors"
	"time"

	"taxidispatch/internal/types"
)

var (
	// ErrUnknownDriver: the reporter is not a registered, active driver, or
	// has never reported a position.
	ErrUnknownDriver = errors.New("unknown driver")
)

// DriverLocation is a live-position cache entry, one current record per
// driver. New reports overwrite, they do not append.
type DriverLocation struct {
	DriverID  types.ID
	Position  types.Point
	Available bool
	UpdatedAt time.Time
}

// Nearby is a proximity query result with the computed great-circle distance
// from the query point.
type Nearby struct {
	DriverID types.ID
	Position types.Point
	Distance float64 // km
}
