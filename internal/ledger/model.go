// README: Order aggregate, status graph and transition events.
package ledger

import (
	"time"

	"taxidispatch/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusAccepted  Status = "accepted"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Class string

const (
	ClassStandard Class = "standard"
	ClassShared   Class = "shared"
	ClassPremium  Class = "premium"
)

type Order struct {
	ID           types.ID
	CustomerID   types.ID
	DriverID     *types.ID
	DispatcherID *types.ID

	PickupText      string
	DestinationText string
	PickupPoint     *types.Point
	DestPoint       *types.Point

	Passengers int
	Class      Class

	Status        Status
	StatusVersion int

	CustomerPhone string
	CustomerName  string
	Comment       string

	EstimatedPrice *types.Money
	FinalPrice     *types.Money

	CreatedAt    time.Time
	AssignedAt   *time.Time
	AcceptedAt   *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	ScheduledFor *time.Time
	CancelReason *string
}

// Event is one entry of the append-only transition history. DriverID is set
// on the assignment edge; it preserves who held the order after cancel and
// re-queue clear the order's own driver_id.
type Event struct {
	ID        int64
	OrderID   types.ID
	From      Status
	To        Status
	ActorRole types.Role
	ActorID   *types.ID
	DriverID  *types.ID
	Reason    string
	CreatedAt time.Time
}

// AllowedTransitions represents the order state flow as code. The
// assigned→pending edge is the timeout/decline re-queue path; everything else
// moves strictly forward.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAssigned, StatusCancelled},
	StatusAssigned: {StatusAccepted, StatusCancelled, StatusPending},
	StatusAccepted: {StatusStarted, StatusCancelled},
	StatusStarted:  {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions. Terminal
// orders are immutable and retained for audit.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ValidClass(c Class) bool {
	return c == ClassStandard || c == ClassShared || c == ClassPremium
}
