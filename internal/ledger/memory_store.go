// README: In-memory order store mirroring the SQL CAS semantics, for tests
// and single-node setups.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"taxidispatch/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events []*Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]*Order)}
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrUnknownOrder
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, upd StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[upd.OrderID]
	if !ok {
		return false, ErrUnknownOrder
	}
	if o.Status != upd.From || o.StatusVersion != upd.Version {
		return false, nil
	}

	now := time.Now().UTC()
	o.Status = upd.To
	o.StatusVersion++
	switch upd.To {
	case StatusAssigned:
		o.DriverID = cloneID(upd.DriverID)
		o.AssignedAt = &now
	case StatusPending:
		o.DriverID = nil
	case StatusAccepted:
		o.AcceptedAt = &now
	case StatusStarted:
		o.StartedAt = &now
	case StatusCompleted:
		o.CompletedAt = &now
		if upd.FinalPrice != nil {
			price := *upd.FinalPrice
			o.FinalPrice = &price
		} else {
			o.FinalPrice = cloneMoney(o.EstimatedPrice)
		}
	case StatusCancelled:
		// The binding dissolves with the order; the transition history keeps
		// who held it.
		o.DriverID = nil
		o.CancelledAt = &now
		if upd.CancelReason != nil {
			reason := *upd.CancelReason
			o.CancelReason = &reason
		}
	}
	return true, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev := *e
	ev.ID = s.nextID
	s.events = append(s.events, &ev)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, orderID types.ID) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.OrderID == orderID {
			ev := *e
			out = append(out, &ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, st Status) ([]*Order, error) {
	return s.filter(func(o *Order) bool { return o.Status == st }, byCreatedAsc)
}

func (s *MemoryStore) ListByCustomer(_ context.Context, customerID types.ID) ([]*Order, error) {
	return s.filter(func(o *Order) bool { return o.CustomerID == customerID }, byCreatedDesc)
}

func (s *MemoryStore) ListByDriver(_ context.Context, driverID types.ID) ([]*Order, error) {
	return s.filter(func(o *Order) bool {
		return o.DriverID != nil && *o.DriverID == driverID
	}, byCreatedDesc)
}

func (s *MemoryStore) ListAssignedBefore(_ context.Context, cutoff time.Time) ([]*Order, error) {
	return s.filter(func(o *Order) bool {
		return o.Status == StatusAssigned && o.AssignedAt != nil && o.AssignedAt.Before(cutoff)
	}, byCreatedAsc)
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Status]int)
	for _, o := range s.orders {
		out[o.Status]++
	}
	return out, nil
}

func (s *MemoryStore) HasActiveByCustomer(_ context.Context, customerID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.CustomerID == customerID && !IsTerminal(o.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) filter(keep func(*Order) bool, less func(a, b *Order) bool) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func byCreatedAsc(a, b *Order) bool  { return a.CreatedAt.Before(b.CreatedAt) }
func byCreatedDesc(a, b *Order) bool { return b.CreatedAt.Before(a.CreatedAt) }

func cloneOrder(o *Order) *Order {
	out := *o
	out.DriverID = cloneID(o.DriverID)
	out.DispatcherID = cloneID(o.DispatcherID)
	out.PickupPoint = clonePoint(o.PickupPoint)
	out.DestPoint = clonePoint(o.DestPoint)
	out.EstimatedPrice = cloneMoney(o.EstimatedPrice)
	out.FinalPrice = cloneMoney(o.FinalPrice)
	out.AssignedAt = cloneTime(o.AssignedAt)
	out.AcceptedAt = cloneTime(o.AcceptedAt)
	out.StartedAt = cloneTime(o.StartedAt)
	out.CompletedAt = cloneTime(o.CompletedAt)
	out.CancelledAt = cloneTime(o.CancelledAt)
	out.ScheduledFor = cloneTime(o.ScheduledFor)
	if o.CancelReason != nil {
		r := *o.CancelReason
		out.CancelReason = &r
	}
	return &out
}

func cloneID(v *types.ID) *types.ID {
	if v == nil {
		return nil
	}
	id := *v
	return &id
}

func clonePoint(v *types.Point) *types.Point {
	if v == nil {
		return nil
	}
	p := *v
	return &p
}

func cloneMoney(v *types.Money) *types.Money {
	if v == nil {
		return nil
	}
	m := *v
	return &m
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
