// README: Binding store backed by Redis SET NX.
package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"taxidispatch/internal/types"
)

const bindingKeyPrefix = "registry:driver:%s:order"

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) TryLock(ctx context.Context, driverID, orderID types.ID) (bool, error) {
	ok, err := s.redis.SetNX(ctx, bindingKey(driverID), string(orderID), 0).Result()
	if err != nil {
		return false, fmt.Errorf("locking driver %s: %w", driverID, err)
	}
	return ok, nil
}

// releaseScript deletes the binding only while it still points at the given
// order, so a stale release cannot clobber a newer lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

func (s *RedisStore) Release(ctx context.Context, driverID, orderID types.ID) (bool, error) {
	n, err := releaseScript.Run(ctx, s.redis, []string{bindingKey(driverID)}, string(orderID)).Int()
	if err != nil {
		return false, fmt.Errorf("releasing driver %s: %w", driverID, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Current(ctx context.Context, driverID types.ID) (types.ID, bool, error) {
	val, err := s.redis.Get(ctx, bindingKey(driverID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading driver binding %s: %w", driverID, err)
	}
	return types.ID(val), true, nil
}

func bindingKey(driverID types.ID) string {
	return fmt.Sprintf(bindingKeyPrefix, string(driverID))
}
