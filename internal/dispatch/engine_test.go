// README: Matching engine tests: nearest-first assignment, races, timeouts,
// escalation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"taxidispatch/internal/config"
	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/ledger"
	"taxidispatch/internal/registry"
	"taxidispatch/internal/types"
	"taxidispatch/internal/user"
)

var center = types.Point{Lat: 41.3000, Lng: 69.2400}

func offsetKm(km float64) types.Point {
	return types.Point{Lat: center.Lat + km/111.2, Lng: center.Lng}
}

type fixture struct {
	users    *user.Service
	orders   *ledger.Service
	geoIdx   *geo.Service
	drivers  *registry.Service
	regStore *registry.MemoryStore
	bus      *events.Bus
	cfg      config.DispatchConfig

	phoneSeq int
}

func newFixture() *fixture {
	f := &fixture{
		users:    user.NewService(user.NewMemoryStore()),
		regStore: registry.NewMemoryStore(),
		bus:      events.NewBus(),
		cfg: config.DispatchConfig{
			TickSeconds:       1,
			RadiusKm:          5.0,
			CandidateLimit:    10,
			MaxAttempts:       2,
			AcceptTimeout:     20 * time.Millisecond,
			TimeoutPolicy:     config.TimeoutRequeue,
			ScheduleLookahead: 30 * time.Minute,
		},
	}
	f.orders = ledger.NewService(ledger.NewMemoryStore(), nil, f.bus, nil)
	f.geoIdx = geo.NewService(geo.NewMemoryStore(), f.users)
	f.drivers = registry.NewService(f.regStore, f.geoIdx)
	return f
}

func (f *fixture) engine(eligible Eligibility) *Engine {
	return NewEngine(f.orders, f.drivers, f.geoIdx, f.users, f.cfg, f.bus, nil, eligible)
}

func (f *fixture) addDriver(t *testing.T, p types.Point, premium bool) types.ID {
	t.Helper()
	f.phoneSeq++
	u, err := f.users.Register(context.Background(), user.RegisterCommand{
		Phone:          fmt.Sprintf("+99890%07d", f.phoneSeq),
		Name:           "Driver",
		Role:           types.RoleDriver,
		PremiumCapable: premium,
	})
	if err != nil {
		t.Fatalf("register driver: %v", err)
	}
	if err := f.geoIdx.ReportLocation(context.Background(), u.ID, p, true); err != nil {
		t.Fatalf("report location: %v", err)
	}
	return u.ID
}

func (f *fixture) addOrder(t *testing.T, mut func(*ledger.CreateCommand)) *ledger.Order {
	t.Helper()
	f.phoneSeq++
	cmd := ledger.CreateCommand{
		CustomerID:      types.ID(fmt.Sprintf("cust-%d", f.phoneSeq)),
		PickupText:      "Amir Temur Square",
		DestinationText: "Chorsu Bazaar",
		PickupPoint:     &center,
		DestPoint:       &types.Point{Lat: 41.3265, Lng: 69.2340},
		Passengers:      1,
		Class:           ledger.ClassStandard,
	}
	if mut != nil {
		mut(&cmd)
	}
	o, err := f.orders.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (f *fixture) status(t *testing.T, id types.ID) *ledger.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return o
}

func TestMatchAssignsNearestDriver(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	near := f.addDriver(t, offsetKm(0.5), false)
	far := f.addDriver(t, offsetKm(2.0), false)
	o := f.addOrder(t, nil)

	if err := f.engine(nil).MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("match: %v", err)
	}

	got := f.status(t, o.ID)
	if got.Status != ledger.StatusAssigned {
		t.Fatalf("status: %s", got.Status)
	}
	if got.DriverID == nil || *got.DriverID != near {
		t.Fatalf("assigned driver: %v, want nearest %s", got.DriverID, near)
	}

	if available, _ := f.geoIdx.Availability(ctx, near); available {
		t.Fatal("assigned driver must be unavailable")
	}
	if available, _ := f.geoIdx.Availability(ctx, far); !available {
		t.Fatal("unused driver must stay available")
	}
	orderID, ok, _ := f.drivers.CurrentOrder(ctx, near)
	if !ok || orderID != o.ID {
		t.Fatalf("binding: %v %v", orderID, ok)
	}
}

func TestMatchSkipsBusyDriverForNextCandidate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	near := f.addDriver(t, offsetKm(0.5), false)
	far := f.addDriver(t, offsetKm(2.0), false)
	o := f.addOrder(t, nil)

	// The nearest driver already holds a binding while its availability flag
	// is still up, as happens mid-race between two passes.
	if ok, err := f.regStore.TryLock(ctx, near, "other-order"); err != nil || !ok {
		t.Fatalf("seed binding: %v %v", ok, err)
	}

	if err := f.engine(nil).MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	got := f.status(t, o.ID)
	if got.DriverID == nil || *got.DriverID != far {
		t.Fatalf("assigned driver: %v, want fallback %s", got.DriverID, far)
	}
}

func TestMatchNoCandidate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.addOrder(t, nil)

	if err := f.engine(nil).MatchOrder(ctx, o.ID); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("no drivers: got %v, want ErrNoCandidate", err)
	}

	// A free-text order with no coordinates cannot be geo-matched.
	textOnly := f.addOrder(t, func(cmd *ledger.CreateCommand) {
		cmd.PickupPoint = nil
	})
	if err := f.engine(nil).MatchOrder(ctx, textOnly.ID); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("text-only order: got %v, want ErrNoCandidate", err)
	}
}

func TestMatchNonPendingOrderIsNoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addDriver(t, offsetKm(0.5), false)
	o := f.addOrder(t, nil)

	err := f.orders.Transition(ctx, ledger.TransitionCommand{
		OrderID: o.ID, Expected: ledger.StatusPending, Next: ledger.StatusCancelled,
		Actor: ledger.Actor{ID: o.CustomerID, Role: types.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := f.engine(nil).MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("match on cancelled order: %v", err)
	}
	if got := f.status(t, o.ID); got.Status != ledger.StatusCancelled {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestPremiumOrderRequiresCapableDriver(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addDriver(t, offsetKm(0.5), false)
	capable := f.addDriver(t, offsetKm(2.0), true)
	o := f.addOrder(t, func(cmd *ledger.CreateCommand) {
		cmd.Class = ledger.ClassPremium
	})

	if err := f.engine(nil).MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	got := f.status(t, o.ID)
	if got.DriverID == nil || *got.DriverID != capable {
		t.Fatalf("premium order went to %v, want %s", got.DriverID, capable)
	}
}

func TestMatchUndoesLockWhenTransitionLoses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driver := f.addDriver(t, offsetKm(0.5), false)
	o := f.addOrder(t, nil)

	// The eligibility hook fires between the candidate query and the lock,
	// which is exactly where a concurrent cancel can slip in.
	cancelDuringMatch := func(ctx context.Context, ord *ledger.Order, _ types.ID) (bool, error) {
		err := f.orders.Transition(ctx, ledger.TransitionCommand{
			OrderID: ord.ID, Expected: ledger.StatusPending, Next: ledger.StatusCancelled,
			Actor: ledger.Actor{ID: ord.CustomerID, Role: types.RoleCustomer},
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}

	if err := f.engine(cancelDuringMatch).MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("losing the race must be benign, got %v", err)
	}

	if got := f.status(t, o.ID); got.Status != ledger.StatusCancelled {
		t.Fatalf("status: %s", got.Status)
	}
	if _, ok, _ := f.drivers.CurrentOrder(ctx, driver); ok {
		t.Fatal("driver binding must be undone")
	}
	if available, _ := f.geoIdx.Availability(ctx, driver); !available {
		t.Fatal("driver availability must be restored")
	}
}

func TestRunMatchingPassFlagsAfterMaxAttempts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.addOrder(t, nil)
	eng := f.engine(nil)

	var escalations atomic.Int32
	f.bus.Subscribe(func(_ context.Context, ev events.OrderEvent) {
		if ev.Type == events.OrderNeedsDispatcher && ev.OrderID == o.ID {
			escalations.Add(1)
		}
	})

	rep, err := eng.RunMatchingPass(ctx, nil)
	if err != nil {
		t.Fatalf("pass 1: %v", err)
	}
	if rep.Considered != 1 || rep.Unmatched != 1 || rep.Flagged != 0 {
		t.Fatalf("pass 1 report: %+v", rep)
	}

	rep, err = eng.RunMatchingPass(ctx, nil)
	if err != nil {
		t.Fatalf("pass 2: %v", err)
	}
	if rep.Flagged != 1 {
		t.Fatalf("pass 2 report: %+v", rep)
	}
	if escalations.Load() != 1 {
		t.Fatalf("escalation events: %d, want 1", escalations.Load())
	}

	// Flagged orders are skipped until a dispatcher clears them.
	rep, err = eng.RunMatchingPass(ctx, nil)
	if err != nil {
		t.Fatalf("pass 3: %v", err)
	}
	if rep.Considered != 0 {
		t.Fatalf("flagged order was considered: %+v", rep)
	}

	eng.ClearFlag(o.ID)
	rep, err = eng.RunMatchingPass(ctx, nil)
	if err != nil {
		t.Fatalf("pass 4: %v", err)
	}
	if rep.Considered != 1 {
		t.Fatalf("cleared order was not reconsidered: %+v", rep)
	}
}

func TestRunMatchingPassDefersScheduledOrders(t *testing.T) {
	f := newFixture()
	f.addDriver(t, offsetKm(0.5), false)

	later := time.Now().UTC().Add(2 * time.Hour)
	o := f.addOrder(t, func(cmd *ledger.CreateCommand) {
		cmd.ScheduledFor = &later
	})

	rep, err := f.engine(nil).RunMatchingPass(context.Background(), nil)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Considered != 0 {
		t.Fatalf("far-future order considered: %+v", rep)
	}
	if got := f.status(t, o.ID); got.Status != ledger.StatusPending {
		t.Fatalf("status: %s", got.Status)
	}

	soon := time.Now().UTC().Add(10 * time.Minute)
	inWindow := f.addOrder(t, func(cmd *ledger.CreateCommand) {
		cmd.ScheduledFor = &soon
	})
	rep, err = f.engine(nil).RunMatchingPass(context.Background(), nil)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Matched != 1 {
		t.Fatalf("in-window order not matched: %+v", rep)
	}
	if got := f.status(t, inWindow.ID); got.Status != ledger.StatusAssigned {
		t.Fatalf("in-window status: %s", got.Status)
	}
}

func TestRunMatchingPassScope(t *testing.T) {
	f := newFixture()
	f.addDriver(t, offsetKm(0.5), false)
	f.addOrder(t, nil)

	farAway := &Scope{Center: types.Point{Lat: 40.0, Lng: 65.0}, RadiusKm: 5.0}
	rep, err := f.engine(nil).RunMatchingPass(context.Background(), farAway)
	if err != nil {
		t.Fatalf("scoped pass: %v", err)
	}
	if rep.Considered != 0 {
		t.Fatalf("out-of-scope order considered: %+v", rep)
	}

	local := &Scope{Center: center, RadiusKm: 5.0}
	rep, err = f.engine(nil).RunMatchingPass(context.Background(), local)
	if err != nil {
		t.Fatalf("scoped pass: %v", err)
	}
	if rep.Matched != 1 {
		t.Fatalf("in-scope order not matched: %+v", rep)
	}
}

func TestSweepRequeuesTimedOutAssignment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driver := f.addDriver(t, offsetKm(0.5), false)
	o := f.addOrder(t, nil)
	eng := f.engine(nil)

	if err := eng.MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	time.Sleep(f.cfg.AcceptTimeout + 10*time.Millisecond)

	swept, err := eng.SweepAcceptanceTimeouts(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept: %d, want 1", swept)
	}

	got := f.status(t, o.ID)
	if got.Status != ledger.StatusPending {
		t.Fatalf("status after requeue: %s", got.Status)
	}
	if got.DriverID != nil {
		t.Fatalf("driver binding not cleared: %s", *got.DriverID)
	}
	if _, ok, _ := f.drivers.CurrentOrder(ctx, driver); ok {
		t.Fatal("registry binding not released")
	}
	if available, _ := f.geoIdx.Availability(ctx, driver); !available {
		t.Fatal("driver must be matchable again")
	}

	// a late accept against the old expected state loses the CAS
	err = f.orders.Transition(ctx, ledger.TransitionCommand{
		OrderID: o.ID, Expected: ledger.StatusAssigned, Next: ledger.StatusAccepted,
		Actor: ledger.Actor{ID: driver, Role: types.RoleDriver},
	})
	if !errors.Is(err, ledger.ErrStaleState) {
		t.Fatalf("late accept: got %v, want ErrStaleState", err)
	}
}

func TestSweepKeepsDriverRelockedDuringRequeue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driver := f.addDriver(t, offsetKm(0.5), false)
	first := f.addOrder(t, nil)
	next := f.addOrder(t, nil)
	eng := f.engine(nil)
	f.bus.Subscribe(eng.HandleOrderEvent)
	// A concurrent matching pass grabs the driver the moment the requeue
	// event frees them.
	f.bus.Subscribe(func(ctx context.Context, ev events.OrderEvent) {
		if ev.Type == events.OrderTransitioned &&
			ev.OrderID == first.ID && ev.ToStatus == string(ledger.StatusPending) {
			if err := f.drivers.Lock(ctx, driver, next.ID); err != nil {
				t.Errorf("re-lock: %v", err)
			}
		}
	})

	if err := eng.MatchOrder(ctx, first.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	time.Sleep(f.cfg.AcceptTimeout + 10*time.Millisecond)

	if _, err := eng.SweepAcceptanceTimeouts(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	orderID, ok, err := f.drivers.CurrentOrder(ctx, driver)
	if err != nil || !ok || orderID != next.ID {
		t.Fatalf("fresh binding lost: %q %v %v", orderID, ok, err)
	}
	if available, _ := f.geoIdx.Availability(ctx, driver); available {
		t.Fatal("re-locked driver must not be available")
	}
}

func TestSweepCancelPolicy(t *testing.T) {
	f := newFixture()
	f.cfg.TimeoutPolicy = config.TimeoutCancel
	ctx := context.Background()
	f.addDriver(t, offsetKm(0.5), false)
	o := f.addOrder(t, nil)
	eng := f.engine(nil)

	if err := eng.MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	time.Sleep(f.cfg.AcceptTimeout + 10*time.Millisecond)

	if _, err := eng.SweepAcceptanceTimeouts(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got := f.status(t, o.ID)
	if got.Status != ledger.StatusCancelled {
		t.Fatalf("status under cancel policy: %s", got.Status)
	}
	if got.CancelReason == nil || *got.CancelReason != "acceptance timeout" {
		t.Fatalf("cancel reason: %v", got.CancelReason)
	}
}

func TestSweepIgnoresTimelyAcceptance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driver := f.addDriver(t, offsetKm(0.5), false)
	o := f.addOrder(t, nil)
	eng := f.engine(nil)

	if err := eng.MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	err := f.orders.Transition(ctx, ledger.TransitionCommand{
		OrderID: o.ID, Expected: ledger.StatusAssigned, Next: ledger.StatusAccepted,
		Actor: ledger.Actor{ID: driver, Role: types.RoleDriver},
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	time.Sleep(f.cfg.AcceptTimeout + 10*time.Millisecond)

	swept, err := eng.SweepAcceptanceTimeouts(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("accepted order swept: %d", swept)
	}
	if got := f.status(t, o.ID); got.Status != ledger.StatusAccepted {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestEventSubscriberReleasesDriverOnCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driver := f.addDriver(t, offsetKm(0.5), false)
	o := f.addOrder(t, nil)
	eng := f.engine(nil)
	f.bus.Subscribe(eng.HandleOrderEvent)

	if err := eng.MatchOrder(ctx, o.ID); err != nil {
		t.Fatalf("match: %v", err)
	}

	err := f.orders.Transition(ctx, ledger.TransitionCommand{
		OrderID: o.ID, Expected: ledger.StatusAssigned, Next: ledger.StatusCancelled,
		Actor: ledger.Actor{ID: o.CustomerID, Role: types.RoleCustomer}, Reason: "changed plans",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, ok, _ := f.drivers.CurrentOrder(ctx, driver); ok {
		t.Fatal("binding should be released by the event subscriber")
	}
	if available, _ := f.geoIdx.Availability(ctx, driver); !available {
		t.Fatal("driver must be available again")
	}
}
