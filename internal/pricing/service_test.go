// README: Fare estimation tests.
package pricing

import (
	"context"
	"testing"
)

func TestEstimate(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	cases := []struct {
		class      string
		distanceKm float64
		want       int64
	}{
		{"standard", 0, 6000},
		{"standard", 2.5, 6000 + 3750},
		{"shared", 10, 4000 + 10000},
		{"premium", 1, 12000 + 2800},
		// negative distances clamp to zero
		{"standard", -3, 6000},
	}
	for _, tc := range cases {
		m, err := svc.Estimate(ctx, tc.distanceKm, tc.class)
		if err != nil {
			t.Fatalf("%s @ %.1f km: %v", tc.class, tc.distanceKm, err)
		}
		if m.Amount != tc.want {
			t.Errorf("%s @ %.1f km: got %d, want %d", tc.class, tc.distanceKm, m.Amount, tc.want)
		}
		if m.Currency != "UZS" {
			t.Errorf("%s: currency %s", tc.class, m.Currency)
		}
	}
}

func TestEstimateUnknownClass(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Estimate(context.Background(), 1, "luxury"); err != ErrUnknownClass {
		t.Fatalf("got %v, want ErrUnknownClass", err)
	}
}

func TestReload(t *testing.T) {
	svc := NewService(nil)
	svc.Reload(map[string]Rate{
		"standard": {Class: "standard", BaseFare: 100, PerKm: 10, Currency: "USD"},
	})

	m, err := svc.Estimate(context.Background(), 2, "standard")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if m.Amount != 120 || m.Currency != "USD" {
		t.Fatalf("after reload: %+v", m)
	}

	// empty reload keeps the current table
	svc.Reload(nil)
	if _, err := svc.Estimate(context.Background(), 1, "standard"); err != nil {
		t.Fatalf("estimate after empty reload: %v", err)
	}
}
