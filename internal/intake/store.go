package intake

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxidispatch/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const callColumns = `id, dispatcher_id, order_id, caller_phone, caller_name, caller_location,
	passengers, notes, call_status, received_at, completed_at`

func (s *PGStore) Create(ctx context.Context, c *DispatcherCall) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO dispatcher_calls
			(id, dispatcher_id, order_id, caller_phone, caller_name, caller_location,
			 passengers, notes, call_status, received_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.DispatcherID, c.OrderID, c.CallerPhone, c.CallerName, c.CallerLocation,
		c.Passengers, c.Notes, c.Status, c.ReceivedAt, c.CompletedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*DispatcherCall, error) {
	row := s.db.QueryRow(ctx, `SELECT `+callColumns+` FROM dispatcher_calls WHERE id = $1`, id)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCallMissing
	}
	return c, err
}

func (s *PGStore) Update(ctx context.Context, c *DispatcherCall) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE dispatcher_calls
		SET order_id = $2, notes = $3, call_status = $4, completed_at = $5
		WHERE id = $1`,
		c.ID, c.OrderID, c.Notes, c.Status, c.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCallMissing
	}
	return nil
}

func (s *PGStore) CompleteByOrder(ctx context.Context, orderID types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE dispatcher_calls
		SET call_status = $2, completed_at = $3
		WHERE order_id = $1 AND call_status <> $2`,
		orderID, CallCompleted, at)
	return err
}

func (s *PGStore) ListOpen(ctx context.Context) ([]*DispatcherCall, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+callColumns+`
		FROM dispatcher_calls
		WHERE call_status <> $1
		ORDER BY received_at ASC`, CallCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DispatcherCall
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCall(row pgx.Row) (*DispatcherCall, error) {
	var c DispatcherCall
	err := row.Scan(&c.ID, &c.DispatcherID, &c.OrderID, &c.CallerPhone, &c.CallerName,
		&c.CallerLocation, &c.Passengers, &c.Notes, &c.Status, &c.ReceivedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
