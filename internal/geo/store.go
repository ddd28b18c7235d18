// README: Geo store backed by Redis GEO plus a per-driver hash.
package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"taxidispatch/internal/types"
)

const (
	driverGeoKey    = "geo:drivers"
	driverKeyPrefix = "geo:driver:%s"
	// positionTTL bounds how long a stale position survives a crashed driver
	// app; a fresh report resets it.
	positionTTL = 24 * time.Hour
)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) Upsert(ctx context.Context, loc DriverLocation) error {
	key := driverKey(loc.DriverID)
	pipe := s.redis.Pipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(loc.DriverID),
		Longitude: loc.Position.Lng,
		Latitude:  loc.Position.Lat,
	})
	pipe.HSet(ctx, key,
		"lat", loc.Position.Lat,
		"lng", loc.Position.Lng,
		"available", strconv.FormatBool(loc.Available),
		"updated_at", loc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, positionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upserting driver location: %w", err)
	}
	return nil
}

func (s *RedisStore) SetAvailability(ctx context.Context, id types.ID, available bool) error {
	key := driverKey(id)
	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("checking driver location: %w", err)
	}
	if exists == 0 {
		return ErrUnknownDriver
	}
	if err := s.redis.HSet(ctx, key, "available", strconv.FormatBool(available)).Err(); err != nil {
		return fmt.Errorf("setting availability: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id types.ID) (*DriverLocation, error) {
	fields, err := s.redis.HGetAll(ctx, driverKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading driver location: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrUnknownDriver
	}
	return parseLocation(id, fields)
}

func (s *RedisStore) AvailableWithin(ctx context.Context, p types.Point, radiusKm float64) ([]DriverLocation, error) {
	ids, err := s.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}

	out := make([]DriverLocation, 0, len(ids))
	for _, id := range ids {
		loc, err := s.Get(ctx, types.ID(id))
		if err == ErrUnknownDriver {
			// GEO member outlived its hash; treat as offline.
			continue
		}
		if err != nil {
			return nil, err
		}
		if loc.Available {
			out = append(out, *loc)
		}
	}
	return out, nil
}

func driverKey(id types.ID) string {
	return fmt.Sprintf(driverKeyPrefix, string(id))
}

func parseLocation(id types.ID, fields map[string]string) (*DriverLocation, error) {
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing lat for driver %s: %w", id, err)
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing lng for driver %s: %w", id, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at for driver %s: %w", id, err)
	}
	return &DriverLocation{
		DriverID:  id,
		Position:  types.Point{Lat: lat, Lng: lng},
		Available: fields["available"] == "true",
		UpdatedAt: updatedAt,
	}, nil
}
