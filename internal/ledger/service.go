// README: Order ledger service: creation, guarded CAS transitions, projections.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/types"
)

var (
	ErrUnknownOrder      = errors.New("unknown order")
	ErrStaleState        = errors.New("stale order state")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrForbidden         = errors.New("actor not authorized for transition")
	ErrActiveOrder       = errors.New("customer has an active order")
	ErrBadRequest        = errors.New("bad request")
)

// Pricing computes a fare estimate; nil estimates are allowed until a pricing
// source is wired.
type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64, class string) (types.Money, error)
}

// StatusUpdate is the single compare-and-set the store must apply atomically.
type StatusUpdate struct {
	OrderID      types.ID
	From         Status
	To           Status
	Version      int
	DriverID     *types.ID
	FinalPrice   *types.Money
	CancelReason *string
}

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	// UpdateStatus applies upd only if the order still has (From, Version);
	// returns false on mismatch with no side effect.
	UpdateStatus(ctx context.Context, upd StatusUpdate) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error)
	ListByStatus(ctx context.Context, st Status) ([]*Order, error)
	ListByCustomer(ctx context.Context, customerID types.ID) ([]*Order, error)
	ListByDriver(ctx context.Context, driverID types.ID) ([]*Order, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	ListAssignedBefore(ctx context.Context, cutoff time.Time) ([]*Order, error)
	HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error)
}

// Actor is whoever triggers a transition: a user (by role) or the system.
type Actor struct {
	ID   types.ID
	Role types.Role
}

var SystemActor = Actor{Role: types.RoleSystem}

type Service struct {
	store   Store
	pricing Pricing
	pub     events.Publisher
	log     *zap.Logger
}

func NewService(store Store, pricing Pricing, pub events.Publisher, log *zap.Logger) *Service {
	if pub == nil {
		pub = events.NewBus()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, pricing: pricing, pub: pub, log: log}
}

type CreateCommand struct {
	CustomerID      types.ID
	DispatcherID    *types.ID
	PickupText      string
	DestinationText string
	PickupPoint     *types.Point
	DestPoint       *types.Point
	Passengers      int
	Class           Class
	CustomerPhone   string
	CustomerName    string
	Comment         string
	ScheduledFor    *time.Time
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerID == "" || cmd.PickupText == "" || cmd.DestinationText == "" {
		return nil, ErrBadRequest
	}
	if cmd.Passengers < 1 {
		return nil, ErrBadRequest
	}
	if !ValidClass(cmd.Class) {
		return nil, ErrBadRequest
	}
	active, err := s.store.HasActiveByCustomer(ctx, cmd.CustomerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrActiveOrder
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              types.ID(uuid.NewString()),
		CustomerID:      cmd.CustomerID,
		DispatcherID:    cmd.DispatcherID,
		PickupText:      cmd.PickupText,
		DestinationText: cmd.DestinationText,
		PickupPoint:     cmd.PickupPoint,
		DestPoint:       cmd.DestPoint,
		Passengers:      cmd.Passengers,
		Class:           cmd.Class,
		Status:          StatusPending,
		CustomerPhone:   cmd.CustomerPhone,
		CustomerName:    cmd.CustomerName,
		Comment:         cmd.Comment,
		CreatedAt:       now,
		ScheduledFor:    cmd.ScheduledFor,
	}
	if s.pricing != nil && cmd.PickupPoint != nil && cmd.DestPoint != nil {
		m, err := s.pricing.Estimate(ctx, geo.DistanceKm(*cmd.PickupPoint, *cmd.DestPoint), string(cmd.Class))
		if err != nil {
			// The order proceeds without an estimate; the final price is
			// settled at completion.
			s.log.Warn("fare estimate failed",
				zap.String("order_id", string(o.ID)),
				zap.String("class", string(cmd.Class)),
				zap.Error(err))
		} else {
			o.EstimatedPrice = &m
		}
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	if err := s.store.AppendEvent(ctx, &Event{
		OrderID:   o.ID,
		From:      StatusNone,
		To:        StatusPending,
		ActorRole: types.RoleCustomer,
		ActorID:   &o.CustomerID,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderEvent{
		Type:     events.OrderCreated,
		OrderID:  o.ID,
		ToStatus: string(StatusPending),
		At:       now,
	})
	return o, nil
}

type TransitionCommand struct {
	OrderID  types.ID
	Expected Status
	Next     Status
	Actor    Actor
	// DriverID is required when entering assigned; ignored otherwise.
	DriverID *types.ID
	// FinalPrice applies when entering completed; defaults to the estimate.
	FinalPrice *types.Money
	Reason     string
}

// Transition applies one guarded edge of the state machine as a single
// compare-and-set. A concurrent writer winning the race surfaces as
// ErrStaleState with no side effect; callers re-read and retry or abandon.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) error {
	if !CanTransition(cmd.Expected, cmd.Next) {
		return ErrIllegalTransition
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if o.Status != cmd.Expected {
		return ErrStaleState
	}
	if !authorized(o, cmd.Expected, cmd.Next, cmd.Actor) {
		return ErrForbidden
	}

	upd := StatusUpdate{
		OrderID: o.ID,
		From:    cmd.Expected,
		To:      cmd.Next,
		Version: o.StatusVersion,
	}
	switch cmd.Next {
	case StatusAssigned:
		if cmd.DriverID == nil || *cmd.DriverID == "" {
			return ErrBadRequest
		}
		upd.DriverID = cmd.DriverID
	case StatusCompleted:
		price := cmd.FinalPrice
		if price == nil {
			price = o.EstimatedPrice
		}
		upd.FinalPrice = price
	case StatusCancelled:
		// Cancel, like re-queue, clears driver_id in the store; the driver
		// stays on record in the transition history.
		if cmd.Reason != "" {
			reason := cmd.Reason
			upd.CancelReason = &reason
		}
	case StatusPending:
		// Re-queue clears the driver binding in the store.
	}

	ok, err := s.store.UpdateStatus(ctx, upd)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}

	now := time.Now().UTC()
	actorID := cmd.Actor.ID
	ev := &Event{
		OrderID:   o.ID,
		From:      cmd.Expected,
		To:        cmd.Next,
		ActorRole: cmd.Actor.Role,
		DriverID:  upd.DriverID,
		Reason:    cmd.Reason,
		CreatedAt: now,
	}
	if actorID != "" {
		ev.ActorID = &actorID
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return err
	}

	oe := events.OrderEvent{
		Type:       events.OrderTransitioned,
		OrderID:    o.ID,
		FromStatus: string(cmd.Expected),
		ToStatus:   string(cmd.Next),
		ActorRole:  string(cmd.Actor.Role),
		ActorID:    ev.ActorID,
		DriverID:   upd.DriverID,
		At:         now,
	}
	if oe.DriverID == nil {
		oe.DriverID = o.DriverID
	}
	s.publish(ctx, oe)
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id types.ID) ([]*Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

func (s *Service) ListByStatus(ctx context.Context, st Status) ([]*Order, error) {
	return s.store.ListByStatus(ctx, st)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID types.ID) ([]*Order, error) {
	return s.store.ListByCustomer(ctx, customerID)
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID) ([]*Order, error) {
	return s.store.ListByDriver(ctx, driverID)
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.store.CountByStatus(ctx)
}

// ListAssignedBefore backs the dispatch engine's acceptance-timeout sweep.
func (s *Service) ListAssignedBefore(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	return s.store.ListAssignedBefore(ctx, cutoff)
}

func (s *Service) publish(ctx context.Context, ev events.OrderEvent) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("publishing order event",
			zap.String("order_id", string(ev.OrderID)),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// authorized implements the per-edge actor guard. The core never branches on
// role beyond "may this actor trigger this edge".
func authorized(o *Order, from, to Status, actor Actor) bool {
	isBoundDriver := actor.Role == types.RoleDriver &&
		o.DriverID != nil && *o.DriverID == actor.ID
	isOwner := actor.Role == types.RoleCustomer && o.CustomerID == actor.ID
	isStaff := actor.Role == types.RoleDispatcher || actor.Role == types.RoleAdmin
	isSystem := actor.Role == types.RoleSystem

	switch {
	case from == StatusPending && to == StatusAssigned:
		return isSystem || isStaff
	case from == StatusAssigned && to == StatusAccepted:
		return isBoundDriver
	case from == StatusAssigned && to == StatusPending:
		return isSystem || isStaff || isBoundDriver
	case from == StatusAccepted && to == StatusStarted:
		return isBoundDriver
	case from == StatusStarted && to == StatusCompleted:
		return isBoundDriver
	case to == StatusCancelled:
		return isOwner || isBoundDriver || isStaff || isSystem
	}
	return false
}
