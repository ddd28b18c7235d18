// README: Dispatch engine: lock-then-transition matching with undo on races.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"taxidispatch/internal/config"
	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/ledger"
	"taxidispatch/internal/registry"
	"taxidispatch/internal/types"
)

type Engine struct {
	orders   *ledger.Service
	drivers  *registry.Service
	geoIdx   *geo.Service
	cfg      config.DispatchConfig
	pub      events.Publisher
	log      *zap.Logger
	eligible Eligibility

	mu       sync.Mutex
	attempts map[types.ID]int
	flagged  map[types.ID]bool
}

// NewEngine wires the matching engine. A nil eligibility falls back to
// DefaultEligibility(users); nil publisher/logger fall back to no-ops.
func NewEngine(
	orders *ledger.Service,
	drivers *registry.Service,
	geoIdx *geo.Service,
	users Users,
	cfg config.DispatchConfig,
	pub events.Publisher,
	log *zap.Logger,
	eligible Eligibility,
) *Engine {
	if eligible == nil {
		eligible = DefaultEligibility(users)
	}
	if pub == nil {
		pub = events.NewBus()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		orders:   orders,
		drivers:  drivers,
		geoIdx:   geoIdx,
		cfg:      cfg,
		pub:      pub,
		log:      log,
		eligible: eligible,
		attempts: make(map[types.ID]int),
		flagged:  make(map[types.ID]bool),
	}
}

// MatchOrder tries to assign one pending order to the nearest eligible
// available driver. Losing a race to another writer is a benign no-op;
// exhausting all candidates returns ErrNoCandidate.
func (e *Engine) MatchOrder(ctx context.Context, orderID types.ID) error {
	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != ledger.StatusPending {
		// Another worker already progressed it.
		return nil
	}
	if o.PickupPoint == nil {
		// Free-text pickup with no coordinates cannot be geo-matched.
		return ErrNoCandidate
	}

	candidates, err := e.geoIdx.NearestAvailable(ctx, *o.PickupPoint, e.cfg.RadiusKm, e.cfg.CandidateLimit)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		ok, err := e.eligible(ctx, o, c.DriverID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		err = e.drivers.Lock(ctx, c.DriverID, o.ID)
		if errors.Is(err, registry.ErrDriverBusy) || errors.Is(err, registry.ErrDriverOffline) {
			// Lost this driver to a concurrent pass; next candidate.
			continue
		}
		if err != nil {
			return err
		}

		driverID := c.DriverID
		err = e.orders.Transition(ctx, ledger.TransitionCommand{
			OrderID:  o.ID,
			Expected: ledger.StatusPending,
			Next:     ledger.StatusAssigned,
			Actor:    ledger.SystemActor,
			DriverID: &driverID,
		})
		if err == nil {
			e.clear(o.ID)
			e.log.Info("order assigned",
				zap.String("order_id", string(o.ID)),
				zap.String("driver_id", string(driverID)),
				zap.Float64("distance_km", c.Distance))
			return nil
		}

		// Undo the reservation so lock+transition stays atomic from the
		// order's perspective.
		if relErr := e.drivers.Release(ctx, driverID, o.ID); relErr != nil {
			return fmt.Errorf("releasing driver %s after failed transition: %v (transition: %w)", driverID, relErr, err)
		}
		if errors.Is(err, ledger.ErrStaleState) {
			// Another path assigned or cancelled the order first.
			return nil
		}
		return err
	}
	return ErrNoCandidate
}

// RunMatchingPass walks pending orders (optionally restricted to scope) and
// attempts one assignment each. Orders that stay unmatched for
// cfg.MaxAttempts passes are flagged for manual dispatch and skipped until a
// dispatcher clears them.
func (e *Engine) RunMatchingPass(ctx context.Context, scope *Scope) (Report, error) {
	pending, err := e.orders.ListByStatus(ctx, ledger.StatusPending)
	if err != nil {
		return Report{}, err
	}
	e.prune(pending)

	var rep Report
	now := time.Now().UTC()
	for _, o := range pending {
		if e.isFlagged(o.ID) {
			continue
		}
		if o.ScheduledFor != nil && o.ScheduledFor.Sub(now) > e.cfg.ScheduleLookahead {
			continue
		}
		if scope != nil {
			if o.PickupPoint == nil || geo.DistanceKm(scope.Center, *o.PickupPoint) > scope.RadiusKm {
				continue
			}
		}

		rep.Considered++
		switch err := e.MatchOrder(ctx, o.ID); {
		case err == nil:
			rep.Matched++
		case errors.Is(err, ErrNoCandidate):
			rep.Unmatched++
			if e.recordMiss(o.ID) >= e.cfg.MaxAttempts {
				e.flag(ctx, o)
				rep.Flagged++
			}
		default:
			return rep, err
		}
	}
	return rep, nil
}

// SweepAcceptanceTimeouts handles orders stuck in assigned past the
// acceptance window, treating them like an explicit decline through the same
// guarded transition. A late accept that wins the CAS simply makes the sweep
// observe ErrStaleState and move on.
func (e *Engine) SweepAcceptanceTimeouts(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-e.cfg.AcceptTimeout)
	stuck, err := e.orders.ListAssignedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	target := ledger.StatusPending
	if e.cfg.TimeoutPolicy == config.TimeoutCancel {
		target = ledger.StatusCancelled
	}

	swept := 0
	for _, o := range stuck {
		err := e.orders.Transition(ctx, ledger.TransitionCommand{
			OrderID:  o.ID,
			Expected: ledger.StatusAssigned,
			Next:     target,
			Actor:    ledger.SystemActor,
			Reason:   "acceptance timeout",
		})
		if errors.Is(err, ledger.ErrStaleState) {
			continue
		}
		if err != nil {
			return swept, err
		}
		// The event subscriber normally freed the driver already during the
		// transition's publish; the order-scoped release makes this a no-op
		// then, and covers engines running without a bus subscription.
		if o.DriverID != nil {
			if err := e.drivers.Release(ctx, *o.DriverID, o.ID); err != nil {
				return swept, err
			}
		}
		swept++
		e.log.Info("assignment timed out",
			zap.String("order_id", string(o.ID)),
			zap.String("moved_to", string(target)))
	}
	return swept, nil
}

// ClearFlag re-admits an order to automatic matching after a dispatcher
// intervened.
func (e *Engine) ClearFlag(orderID types.ID) {
	e.clear(orderID)
}

// RunScheduler is the periodic background loop: one matching pass and one
// timeout sweep per tick.
func (e *Engine) RunScheduler(ctx context.Context) {
	tick := time.Duration(e.cfg.TickSeconds) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rep, err := e.RunMatchingPass(ctx, nil); err != nil {
				e.log.Error("matching pass failed", zap.Error(err))
			} else if rep.Considered > 0 {
				e.log.Debug("matching pass",
					zap.Int("considered", rep.Considered),
					zap.Int("matched", rep.Matched),
					zap.Int("unmatched", rep.Unmatched),
					zap.Int("flagged", rep.Flagged))
			}
			if _, err := e.SweepAcceptanceTimeouts(ctx); err != nil {
				e.log.Error("timeout sweep failed", zap.Error(err))
			}
		}
	}
}

// HandleOrderEvent releases the driver binding when a transition takes the
// order away from its driver: terminal states and the re-queue path. Wired as
// an event-bus subscriber so driver/customer cancellations free the driver
// without every caller remembering to.
func (e *Engine) HandleOrderEvent(ctx context.Context, ev events.OrderEvent) {
	if ev.Type != events.OrderTransitioned || ev.DriverID == nil {
		return
	}
	switch ledger.Status(ev.ToStatus) {
	case ledger.StatusCompleted, ledger.StatusCancelled, ledger.StatusPending:
	default:
		return
	}
	if err := e.drivers.Release(ctx, *ev.DriverID, ev.OrderID); err != nil {
		e.log.Error("releasing driver after order left",
			zap.String("order_id", string(ev.OrderID)),
			zap.String("driver_id", string(*ev.DriverID)),
			zap.Error(err))
	}
}

func (e *Engine) recordMiss(orderID types.ID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[orderID]++
	return e.attempts[orderID]
}

func (e *Engine) flag(ctx context.Context, o *ledger.Order) {
	e.mu.Lock()
	e.flagged[o.ID] = true
	e.mu.Unlock()

	e.log.Warn("order needs manual dispatch",
		zap.String("order_id", string(o.ID)),
		zap.Int("attempts", e.cfg.MaxAttempts))
	if err := e.pub.Publish(ctx, events.OrderEvent{
		Type:    events.OrderNeedsDispatcher,
		OrderID: o.ID,
		At:      time.Now().UTC(),
	}); err != nil {
		e.log.Warn("publishing needs-dispatcher event",
			zap.String("order_id", string(o.ID)), zap.Error(err))
	}
}

func (e *Engine) isFlagged(orderID types.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flagged[orderID]
}

func (e *Engine) clear(orderID types.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, orderID)
	delete(e.flagged, orderID)
}

// prune drops attempt counters for orders that are no longer pending, so the
// maps do not grow with completed traffic.
func (e *Engine) prune(pending []*ledger.Order) {
	keep := make(map[types.ID]bool, len(pending))
	for _, o := range pending {
		keep[o.ID] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.attempts {
		if !keep[id] {
			delete(e.attempts, id)
		}
	}
	for id := range e.flagged {
		if !keep[id] {
			delete(e.flagged, id)
		}
	}
}
