// README: Rate table backed by PostgreSQL.
package pricing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) LoadRates(ctx context.Context) (map[string]Rate, error) {
	rows, err := s.db.Query(ctx, `SELECT class, base_fare, per_km, currency FROM fare_rates`)
	if err != nil {
		return nil, fmt.Errorf("loading fare rates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Rate)
	for rows.Next() {
		var r Rate
		if err := rows.Scan(&r.Class, &r.BaseFare, &r.PerKm, &r.Currency); err != nil {
			return nil, fmt.Errorf("scanning fare rate: %w", err)
		}
		out[r.Class] = r
	}
	return out, rows.Err()
}
