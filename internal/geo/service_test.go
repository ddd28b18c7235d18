// README: Geo index service tests (reports, availability, proximity ranking).
package geo

import (
	"context"
	"testing"

	"taxidispatch/internal/types"
)

// stubUsers admits every id in the set as an active driver.
type stubUsers map[types.ID]bool

func (s stubUsers) IsActiveDriver(_ context.Context, id types.ID) (bool, error) {
	return s[id], nil
}

var center = types.Point{Lat: 41.3000, Lng: 69.2400}

// offsetKm returns a point roughly km kilometers north of center.
func offsetKm(km float64) types.Point {
	return types.Point{Lat: center.Lat + km/111.2, Lng: center.Lng}
}

func TestReportLocationRejectsNonDrivers(t *testing.T) {
	svc := NewService(NewMemoryStore(), stubUsers{"d1": true})
	ctx := context.Background()

	if err := svc.ReportLocation(ctx, "d1", center, true); err != nil {
		t.Fatalf("driver report: %v", err)
	}
	if err := svc.ReportLocation(ctx, "c1", center, true); err != ErrUnknownDriver {
		t.Fatalf("non-driver report: got %v, want ErrUnknownDriver", err)
	}
	if err := svc.SetAvailability(ctx, "c1", true); err != ErrUnknownDriver {
		t.Fatalf("non-driver availability: got %v, want ErrUnknownDriver", err)
	}
}

func TestReportOverwritesNotAppends(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, stubUsers{"d1": true})
	ctx := context.Background()

	if err := svc.ReportLocation(ctx, "d1", offsetKm(1), true); err != nil {
		t.Fatalf("first report: %v", err)
	}
	if err := svc.ReportLocation(ctx, "d1", offsetKm(2), true); err != nil {
		t.Fatalf("second report: %v", err)
	}

	loc, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loc.Position != offsetKm(2) {
		t.Fatalf("position: %+v, want latest report", loc.Position)
	}
}

func TestAvailabilityDefaultsOffline(t *testing.T) {
	svc := NewService(NewMemoryStore(), stubUsers{"d1": true})
	available, err := svc.Availability(context.Background(), "d1")
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if available {
		t.Fatal("driver with no location record should be offline")
	}
}

func TestNearestAvailableOrderingAndLimit(t *testing.T) {
	svc := NewService(NewMemoryStore(), stubUsers{"d_near": true, "d_far": true, "d_off": true, "d_out": true})
	ctx := context.Background()

	report := func(id types.ID, p types.Point, available bool) {
		t.Helper()
		if err := svc.ReportLocation(ctx, id, p, available); err != nil {
			t.Fatalf("report %s: %v", id, err)
		}
	}
	report("d_near", offsetKm(0.5), true)
	report("d_far", offsetKm(2.0), true)
	report("d_off", offsetKm(0.1), false) // closest but unavailable
	report("d_out", offsetKm(50), true)   // outside radius

	found, err := svc.NearestAvailable(ctx, center, 5.0, 10)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("candidates: %d, want 2", len(found))
	}
	if found[0].DriverID != "d_near" || found[1].DriverID != "d_far" {
		t.Fatalf("ordering: %s, %s", found[0].DriverID, found[1].DriverID)
	}
	if found[0].Distance >= found[1].Distance {
		t.Fatalf("distances not ascending: %.2f, %.2f", found[0].Distance, found[1].Distance)
	}

	limited, err := svc.NearestAvailable(ctx, center, 5.0, 1)
	if err != nil {
		t.Fatalf("nearest limited: %v", err)
	}
	if len(limited) != 1 || limited[0].DriverID != "d_near" {
		t.Fatalf("limit: got %d, first %s", len(limited), limited[0].DriverID)
	}
}

func TestNearestAvailableTieBreaksOnDriverID(t *testing.T) {
	svc := NewService(NewMemoryStore(), stubUsers{"d_b": true, "d_a": true})
	ctx := context.Background()
	same := offsetKm(1.0)

	if err := svc.ReportLocation(ctx, "d_b", same, true); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := svc.ReportLocation(ctx, "d_a", same, true); err != nil {
		t.Fatalf("report: %v", err)
	}

	found, err := svc.NearestAvailable(ctx, center, 5.0, 10)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(found) != 2 || found[0].DriverID != "d_a" || found[1].DriverID != "d_b" {
		t.Fatalf("tie-break: got %v", found)
	}
}

func TestNearestAvailableEmpty(t *testing.T) {
	svc := NewService(NewMemoryStore(), stubUsers{})
	found, err := svc.NearestAvailable(context.Background(), center, 5.0, 10)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected no candidates, got %d", len(found))
	}
}
