// README: Dispatch engine types: scopes, pass reports, eligibility predicates.
package dispatch

import (
	"context"
	"errors"

	"taxidispatch/internal/ledger"
	"taxidispatch/internal/types"
)

// ErrNoCandidate: every nearby available driver was exhausted without a
// successful assignment. Reported upward, never silently dropped.
var ErrNoCandidate = errors.New("no candidate driver")

// Scope optionally restricts a matching pass to a geographic area, e.g. one
// dispatcher's district. Nil scope means all pending orders.
type Scope struct {
	Center   types.Point
	RadiusKm float64
}

// Report summarizes one matching pass.
type Report struct {
	Considered int
	Matched    int
	Unmatched  int
	Flagged    int
}

// Eligibility decides whether a driver may serve an order. The premium rule
// is a deployment policy, not a hard-coded algorithm, so it lives behind this
// predicate.
type Eligibility func(ctx context.Context, o *ledger.Order, driverID types.ID) (bool, error)

// Users is the slice of the user service the default predicate needs.
type Users interface {
	IsPremiumCapable(ctx context.Context, id types.ID) (bool, error)
}

// DefaultEligibility admits any driver for standard and shared orders and
// requires a premium-capable vehicle for premium ones.
func DefaultEligibility(users Users) Eligibility {
	return func(ctx context.Context, o *ledger.Order, driverID types.ID) (bool, error) {
		if o.Class != ledger.ClassPremium {
			return true, nil
		}
		return users.IsPremiumCapable(ctx, driverID)
	}
}
