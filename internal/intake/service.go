// README: Intake gateway: the entry point for customer orders and dispatcher calls.
package intake

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taxidispatch/internal/events"
	"taxidispatch/internal/ledger"
	"taxidispatch/internal/types"
	"taxidispatch/internal/user"
)

var (
	ErrForbidden   = errors.New("actor role not allowed")
	ErrCallMissing = errors.New("dispatcher call not found")
	ErrBadRequest  = errors.New("bad request")
)

// Orders is the slice of the ledger the gateway calls into.
type Orders interface {
	Create(ctx context.Context, cmd ledger.CreateCommand) (*ledger.Order, error)
}

// Users resolves and provisions the people behind intake requests.
type Users interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
	EnsureCustomer(ctx context.Context, phone, name string) (*user.User, error)
}

type Store interface {
	Create(ctx context.Context, c *DispatcherCall) error
	Get(ctx context.Context, id types.ID) (*DispatcherCall, error)
	Update(ctx context.Context, c *DispatcherCall) error
	// CompleteByOrder closes the call linked to orderID, if one exists.
	CompleteByOrder(ctx context.Context, orderID types.ID, at time.Time) error
	ListOpen(ctx context.Context) ([]*DispatcherCall, error)
}

type Service struct {
	orders Orders
	users  Users
	calls  Store
	log    *zap.Logger
}

func NewService(orders Orders, users Users, calls Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{orders: orders, users: users, calls: calls, log: log}
}

type CustomerOrderCommand struct {
	CustomerID      types.ID
	PickupText      string
	DestinationText string
	PickupPoint     *types.Point
	DestPoint       *types.Point
	Passengers      int
	Class           ledger.Class
	Comment         string
	ScheduledFor    *time.Time
}

// SubmitCustomerOrder validates the requester and records the order pending.
func (s *Service) SubmitCustomerOrder(ctx context.Context, cmd CustomerOrderCommand) (*ledger.Order, error) {
	u, err := s.users.Get(ctx, cmd.CustomerID)
	if err != nil {
		return nil, err
	}
	if !u.Active || u.Role != types.RoleCustomer {
		return nil, ErrForbidden
	}
	return s.orders.Create(ctx, ledger.CreateCommand{
		CustomerID:      u.ID,
		PickupText:      cmd.PickupText,
		DestinationText: cmd.DestinationText,
		PickupPoint:     cmd.PickupPoint,
		DestPoint:       cmd.DestPoint,
		Passengers:      cmd.Passengers,
		Class:           cmd.Class,
		CustomerPhone:   u.Phone,
		CustomerName:    u.Name,
		Comment:         cmd.Comment,
		ScheduledFor:    cmd.ScheduledFor,
	})
}

type DispatcherCallCommand struct {
	DispatcherID    types.ID
	CallerPhone     string
	CallerName      string
	CallerLocation  string
	DestinationText string
	PickupPoint     *types.Point
	DestPoint       *types.Point
	Passengers      int
	Class           ledger.Class
	Notes           string
	ScheduledFor    *time.Time
}

// SubmitDispatcherCall records a phone order: the call itself, a customer
// record for the caller, and the ride order it produces. The call moves
// received→processing once the order is linked, and completes when the order
// reaches a terminal state.
func (s *Service) SubmitDispatcherCall(ctx context.Context, cmd DispatcherCallCommand) (*DispatcherCall, *ledger.Order, error) {
	if cmd.CallerPhone == "" {
		return nil, nil, ErrBadRequest
	}
	d, err := s.users.Get(ctx, cmd.DispatcherID)
	if err != nil {
		return nil, nil, err
	}
	if !d.Active || (d.Role != types.RoleDispatcher && d.Role != types.RoleAdmin) {
		return nil, nil, ErrForbidden
	}

	passengers := cmd.Passengers
	if passengers < 1 {
		passengers = 1
	}
	call := &DispatcherCall{
		ID:             types.ID(uuid.NewString()),
		DispatcherID:   d.ID,
		CallerPhone:    cmd.CallerPhone,
		CallerName:     cmd.CallerName,
		CallerLocation: cmd.CallerLocation,
		Passengers:     passengers,
		Notes:          cmd.Notes,
		Status:         CallReceived,
		ReceivedAt:     time.Now().UTC(),
	}
	if err := s.calls.Create(ctx, call); err != nil {
		return nil, nil, err
	}

	caller, err := s.users.EnsureCustomer(ctx, cmd.CallerPhone, cmd.CallerName)
	if err != nil {
		return call, nil, err
	}

	class := cmd.Class
	if class == "" {
		class = ledger.ClassStandard
	}
	o, err := s.orders.Create(ctx, ledger.CreateCommand{
		CustomerID:      caller.ID,
		DispatcherID:    &call.DispatcherID,
		PickupText:      cmd.CallerLocation,
		DestinationText: cmd.DestinationText,
		PickupPoint:     cmd.PickupPoint,
		DestPoint:       cmd.DestPoint,
		Passengers:      passengers,
		Class:           class,
		CustomerPhone:   cmd.CallerPhone,
		CustomerName:    caller.Name,
		Comment:         cmd.Notes,
		ScheduledFor:    cmd.ScheduledFor,
	})
	if err != nil {
		// The call stays in received for the dispatcher to retry or abandon.
		return call, nil, err
	}

	call.OrderID = &o.ID
	call.Status = CallProcessing
	if err := s.calls.Update(ctx, call); err != nil {
		return call, o, err
	}
	return call, o, nil
}

func (s *Service) GetCall(ctx context.Context, id types.ID) (*DispatcherCall, error) {
	return s.calls.Get(ctx, id)
}

func (s *Service) ListOpenCalls(ctx context.Context) ([]*DispatcherCall, error) {
	return s.calls.ListOpen(ctx)
}

// HandleOrderEvent closes dispatcher calls when their linked order reaches a
// terminal state. Wired as an event-bus subscriber.
func (s *Service) HandleOrderEvent(ctx context.Context, ev events.OrderEvent) {
	if ev.Type != events.OrderTransitioned {
		return
	}
	if !ledger.IsTerminal(ledger.Status(ev.ToStatus)) {
		return
	}
	if err := s.calls.CompleteByOrder(ctx, ev.OrderID, ev.At); err != nil {
		s.log.Error("closing dispatcher call",
			zap.String("order_id", string(ev.OrderID)),
			zap.Error(err))
	}
}
