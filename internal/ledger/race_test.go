// README: Concurrency tests for guarded order transitions (run with -race).
package ledger

import (
	"context"
	"sync"
	"testing"

	"taxidispatch/internal/types"
)

func TestConcurrentAssignSingleWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	o := createPending(t, svc, "c_assign_race")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		driverID := types.ID("d" + string(rune('0'+i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Transition(ctx, TransitionCommand{
				OrderID:  o.ID,
				Expected: StatusPending,
				Next:     StatusAssigned,
				Actor:    SystemActor,
				DriverID: &driverID,
			})
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		switch err {
		case nil:
			success++
		case ErrStaleState:
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", success)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusAssigned || got.DriverID == nil {
		t.Fatalf("final state: status=%s driver=%v", got.Status, got.DriverID)
	}
	if got.StatusVersion != 1 {
		t.Fatalf("version: %d, want 1", got.StatusVersion)
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	o := createPending(t, svc, "c_accept_cancel")
	driverID := types.ID("d1")

	mustTransition(t, svc, TransitionCommand{
		OrderID: o.ID, Expected: StatusPending, Next: StatusAssigned,
		Actor: SystemActor, DriverID: &driverID,
	})

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- svc.Transition(ctx, TransitionCommand{
			OrderID: o.ID, Expected: StatusAssigned, Next: StatusAccepted,
			Actor: Actor{ID: driverID, Role: types.RoleDriver},
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- svc.Transition(ctx, TransitionCommand{
			OrderID: o.ID, Expected: StatusAssigned, Next: StatusCancelled,
			Actor: Actor{ID: "c_accept_cancel", Role: types.RoleCustomer}, Reason: "race",
		})
	}()

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != ErrStaleState {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", success)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusAccepted && got.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}
