// README: Order store backed by PostgreSQL; status changes are a single CAS UPDATE.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxidispatch/internal/types"
)

const defaultCurrency = "UZS"

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const orderColumns = `
	id, customer_id, driver_id, dispatcher_id,
	pickup_text, destination_text, pickup_lat, pickup_lng, dest_lat, dest_lng,
	passengers, class, status, status_version,
	customer_phone, customer_name, comment,
	estimated_price, final_price, currency,
	created_at, assigned_at, accepted_at, started_at, completed_at, cancelled_at,
	scheduled_for, cancel_reason`

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	var pickupLat, pickupLng, destLat, destLng *float64
	if o.PickupPoint != nil {
		pickupLat, pickupLng = &o.PickupPoint.Lat, &o.PickupPoint.Lng
	}
	if o.DestPoint != nil {
		destLat, destLng = &o.DestPoint.Lat, &o.DestPoint.Lng
	}
	currency := defaultCurrency
	if o.EstimatedPrice != nil && o.EstimatedPrice.Currency != "" {
		currency = o.EstimatedPrice.Currency
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, driver_id, dispatcher_id,
			pickup_text, destination_text, pickup_lat, pickup_lng, dest_lat, dest_lng,
			passengers, class, status, status_version,
			customer_phone, customer_name, comment,
			estimated_price, currency, created_at, scheduled_for
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21
		)`,
		string(o.ID), string(o.CustomerID), idPtr(o.DriverID), idPtr(o.DispatcherID),
		o.PickupText, o.DestinationText, pickupLat, pickupLng, destLat, destLng,
		o.Passengers, string(o.Class), string(o.Status), o.StatusVersion,
		o.CustomerPhone, o.CustomerName, o.Comment,
		moneyPtr(o.EstimatedPrice), currency, o.CreatedAt, o.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownOrder
	}
	return o, err
}

func (s *PGStore) UpdateStatus(ctx context.Context, upd StatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    driver_id = CASE
		        WHEN $1 = 'assigned' THEN $2
		        WHEN $1 IN ('pending', 'cancelled') THEN NULL
		        ELSE driver_id END,
		    assigned_at = CASE WHEN $1 = 'assigned' THEN NOW() ELSE assigned_at END,
		    accepted_at = CASE WHEN $1 = 'accepted' THEN NOW() ELSE accepted_at END,
		    started_at = CASE WHEN $1 = 'started' THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END,
		    final_price = CASE WHEN $1 = 'completed' THEN COALESCE($3, final_price) ELSE final_price END,
		    cancel_reason = COALESCE($4, cancel_reason)
		WHERE id = $5 AND status = $6 AND status_version = $7`,
		string(upd.To),
		idPtr(upd.DriverID),
		moneyPtr(upd.FinalPrice),
		upd.CancelReason,
		string(upd.OrderID),
		string(upd.From),
		upd.Version,
	)
	if err != nil {
		return false, fmt.Errorf("updating order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_transitions (order_id, from_status, to_status, actor_role, actor_id, driver_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.OrderID), string(e.From), string(e.To), string(e.ActorRole), idPtr(e.ActorID), idPtr(e.DriverID), e.Reason, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending order transition: %w", err)
	}
	return nil
}

func (s *PGStore) ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_role, actor_id, driver_id, reason, created_at
		FROM order_transitions
		WHERE order_id = $1
		ORDER BY id`, string(orderID))
	if err != nil {
		return nil, fmt.Errorf("listing order transitions: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var actorID, driverID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.From, &e.To, &e.ActorRole, &actorID, &driverID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning order transition: %w", err)
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		if driverID != nil {
			id := types.ID(*driverID)
			e.DriverID = &id
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PGStore) ListByStatus(ctx context.Context, st Status) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at`, string(st))
}

func (s *PGStore) ListByCustomer(ctx context.Context, customerID types.ID) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`, string(customerID))
}

func (s *PGStore) ListByDriver(ctx context.Context, driverID types.ID) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE driver_id = $1 ORDER BY created_at DESC`, string(driverID))
}

func (s *PGStore) ListAssignedBefore(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = 'assigned' AND assigned_at < $1 ORDER BY assigned_at`, cutoff)
}

func (s *PGStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scanning order count: %w", err)
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

func (s *PGStore) HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE customer_id = $1
			  AND status IN ('pending','assigned','accepted','started')
		)`, string(customerID))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("checking active orders: %w", err)
	}
	return exists, nil
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverID, dispatcherID, cancelReason *string
	var pickupLat, pickupLng, destLat, destLng *float64
	var estimated, final *int64
	var currency string

	err := row.Scan(
		&o.ID, &o.CustomerID, &driverID, &dispatcherID,
		&o.PickupText, &o.DestinationText, &pickupLat, &pickupLng, &destLat, &destLng,
		&o.Passengers, &o.Class, &o.Status, &o.StatusVersion,
		&o.CustomerPhone, &o.CustomerName, &o.Comment,
		&estimated, &final, &currency,
		&o.CreatedAt, &o.AssignedAt, &o.AcceptedAt, &o.StartedAt, &o.CompletedAt, &o.CancelledAt,
		&o.ScheduledFor, &cancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning order: %w", err)
	}

	if driverID != nil {
		id := types.ID(*driverID)
		o.DriverID = &id
	}
	if dispatcherID != nil {
		id := types.ID(*dispatcherID)
		o.DispatcherID = &id
	}
	if pickupLat != nil && pickupLng != nil {
		o.PickupPoint = &types.Point{Lat: *pickupLat, Lng: *pickupLng}
	}
	if destLat != nil && destLng != nil {
		o.DestPoint = &types.Point{Lat: *destLat, Lng: *destLng}
	}
	if estimated != nil {
		o.EstimatedPrice = &types.Money{Amount: *estimated, Currency: currency}
	}
	if final != nil {
		o.FinalPrice = &types.Money{Amount: *final, Currency: currency}
	}
	o.CancelReason = cancelReason
	return &o, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func moneyPtr(v *types.Money) *int64 {
	if v == nil {
		return nil
	}
	n := v.Amount
	return &n
}
