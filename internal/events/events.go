// README: Order lifecycle events emitted by the ledger and dispatch engine.
package events

import (
	"context"
	"sync"
	"time"

	"taxidispatch/internal/types"
)

type Type string

const (
	OrderCreated         Type = "order_created"
	OrderTransitioned    Type = "order_transitioned"
	OrderNeedsDispatcher Type = "order_needs_dispatcher"
)

// OrderEvent is the payload downstream collaborators (bot, web UI, dispatcher
// console) consume. Statuses are plain strings so consumers do not import the
// ledger package.
type OrderEvent struct {
	Type       Type      `json:"type"`
	OrderID    types.ID  `json:"order_id"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	ActorRole  string    `json:"actor_role,omitempty"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	DriverID   *types.ID `json:"driver_id,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
}

// Bus is an in-process publisher with synchronous fan-out. It backs tests and
// same-process consumers such as the intake gateway's call closer.
type Bus struct {
	mu   sync.RWMutex
	subs []func(context.Context, OrderEvent)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(fn func(context.Context, OrderEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

func (b *Bus) Publish(ctx context.Context, ev OrderEvent) error {
	b.mu.RLock()
	subs := make([]func(context.Context, OrderEvent), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ctx, ev)
	}
	return nil
}

// Multi publishes to every given publisher, returning the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev OrderEvent) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
