// README: Postgres store tests; skipped unless DISPATCH_TEST_DSN is set.
package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxidispatch/internal/types"
)

func setupTestStore(t *testing.T) (*PGStore, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE dispatcher_calls, order_transitions, orders, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPGStore(db), db
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

func stripSQLComments(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func splitSQL(s string) []string {
	var out []string
	for _, stmt := range strings.Split(s, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func seedCustomer(t *testing.T, db *pgxpool.Pool) types.ID {
	t.Helper()
	id := types.ID(uuid.NewString())
	now := time.Now().UTC()
	_, err := db.Exec(context.Background(), `
		INSERT INTO users (id, phone, name, role, active, premium_capable, created_at, updated_at)
		VALUES ($1, $2, 'DB Test', 'customer', TRUE, FALSE, $3, $3)`,
		string(id), "+99890"+uuid.NewString()[:8], now)
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return id
}

func TestPGStoreRoundTrip(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	customerID := seedCustomer(t, db)

	scheduled := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	o := &Order{
		ID:              types.ID(uuid.NewString()),
		CustomerID:      customerID,
		PickupText:      "Amir Temur Square",
		DestinationText: "Airport",
		PickupPoint:     &types.Point{Lat: 41.2995, Lng: 69.2401},
		DestPoint:       &types.Point{Lat: 41.2579, Lng: 69.2811},
		Passengers:      2,
		Class:           ClassStandard,
		Status:          StatusPending,
		CustomerPhone:   "+998901112233",
		CustomerName:    "DB Test",
		Comment:         "ring the bell",
		EstimatedPrice:  &types.Money{Amount: 14550, Currency: "UZS"},
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
		ScheduledFor:    &scheduled,
	}
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.StatusVersion != 0 {
		t.Fatalf("state: %s v%d", got.Status, got.StatusVersion)
	}
	if got.PickupPoint == nil || got.PickupPoint.Lat != o.PickupPoint.Lat {
		t.Fatalf("pickup point: %+v", got.PickupPoint)
	}
	if got.EstimatedPrice == nil || got.EstimatedPrice.Amount != 14550 || got.EstimatedPrice.Currency != "UZS" {
		t.Fatalf("estimate: %+v", got.EstimatedPrice)
	}
	if got.ScheduledFor == nil || !got.ScheduledFor.Equal(scheduled) {
		t.Fatalf("scheduled for: %v", got.ScheduledFor)
	}

	if _, err := store.Get(ctx, "missing"); err != ErrUnknownOrder {
		t.Fatalf("unknown order: got %v, want ErrUnknownOrder", err)
	}
}

func TestPGStoreCASSingleWinner(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	customerID := seedCustomer(t, db)

	o := &Order{
		ID:              types.ID(uuid.NewString()),
		CustomerID:      customerID,
		PickupText:      "a",
		DestinationText: "b",
		Passengers:      1,
		Class:           ClassStandard,
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		driverID := types.ID(uuid.NewString())
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.UpdateStatus(ctx, StatusUpdate{
				OrderID:  o.ID,
				From:     StatusPending,
				To:       StatusCancelled,
				Version:  0,
				DriverID: &driverID,
			})
			if err != nil {
				t.Errorf("cas: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("CAS winners: %d, want 1", winners)
	}

	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled || got.StatusVersion != 1 {
		t.Fatalf("final: %s v%d", got.Status, got.StatusVersion)
	}
	if got.CancelledAt == nil {
		t.Fatal("cancelled_at not stamped")
	}
}

func TestPGStoreRequeueClearsDriver(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	customerID := seedCustomer(t, db)
	driverID := types.ID(uuid.NewString())
	now := time.Now().UTC()
	_, err := db.Exec(ctx, `
		INSERT INTO users (id, phone, name, role, active, premium_capable, created_at, updated_at)
		VALUES ($1, $2, 'Driver', 'driver', TRUE, FALSE, $3, $3)`,
		string(driverID), "+99891"+uuid.NewString()[:8], now)
	if err != nil {
		t.Fatalf("seed driver: %v", err)
	}

	o := &Order{
		ID:              types.ID(uuid.NewString()),
		CustomerID:      customerID,
		PickupText:      "a",
		DestinationText: "b",
		Passengers:      1,
		Class:           ClassStandard,
		Status:          StatusPending,
		CreatedAt:       now,
	}
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := store.UpdateStatus(ctx, StatusUpdate{
		OrderID: o.ID, From: StatusPending, To: StatusAssigned, Version: 0, DriverID: &driverID,
	})
	if err != nil || !ok {
		t.Fatalf("assign: %v %v", ok, err)
	}
	assigned, _ := store.Get(ctx, o.ID)
	if assigned.DriverID == nil || *assigned.DriverID != driverID || assigned.AssignedAt == nil {
		t.Fatalf("assigned state: %+v", assigned)
	}

	ok, err = store.UpdateStatus(ctx, StatusUpdate{
		OrderID: o.ID, From: StatusAssigned, To: StatusPending, Version: 1,
	})
	if err != nil || !ok {
		t.Fatalf("requeue: %v %v", ok, err)
	}
	requeued, _ := store.Get(ctx, o.ID)
	if requeued.DriverID != nil {
		t.Fatalf("driver not cleared: %s", *requeued.DriverID)
	}
	if requeued.StatusVersion != 2 {
		t.Fatalf("version: %d", requeued.StatusVersion)
	}
}

func TestPGStoreCancelClearsDriver(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()
	customerID := seedCustomer(t, db)
	driverID := types.ID(uuid.NewString())
	now := time.Now().UTC()
	_, err := db.Exec(ctx, `
		INSERT INTO users (id, phone, name, role, active, premium_capable, created_at, updated_at)
		VALUES ($1, $2, 'Driver', 'driver', TRUE, FALSE, $3, $3)`,
		string(driverID), "+99891"+uuid.NewString()[:8], now)
	if err != nil {
		t.Fatalf("seed driver: %v", err)
	}

	o := &Order{
		ID:              types.ID(uuid.NewString()),
		CustomerID:      customerID,
		PickupText:      "a",
		DestinationText: "b",
		Passengers:      1,
		Class:           ClassStandard,
		Status:          StatusPending,
		CreatedAt:       now,
	}
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := store.UpdateStatus(ctx, StatusUpdate{
		OrderID: o.ID, From: StatusPending, To: StatusAssigned, Version: 0, DriverID: &driverID,
	})
	if err != nil || !ok {
		t.Fatalf("assign: %v %v", ok, err)
	}

	reason := "changed plans"
	ok, err = store.UpdateStatus(ctx, StatusUpdate{
		OrderID: o.ID, From: StatusAssigned, To: StatusCancelled, Version: 1, CancelReason: &reason,
	})
	if err != nil || !ok {
		t.Fatalf("cancel: %v %v", ok, err)
	}
	cancelled, _ := store.Get(ctx, o.ID)
	if cancelled.DriverID != nil {
		t.Fatalf("driver not cleared on cancel: %s", *cancelled.DriverID)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != reason {
		t.Fatalf("cancel reason: %v", cancelled.CancelReason)
	}
	if cancelled.CancelledAt == nil {
		t.Fatal("cancelled_at not stamped")
	}
}
