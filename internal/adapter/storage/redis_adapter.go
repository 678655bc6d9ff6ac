package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
	inFlightMarker       = "pending"
)

// claimRequestScript sets the key when absent and otherwise returns its value,
// so a claim never races with an expiring key between SETNX and GET.
var claimRequestScript = redis.NewScript(`
local key = KEYS[1]
local marker = ARGV[1]
local ttl = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current then
	return current
end

redis.call('SET', key, marker, 'PX', ttl)
return false
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) ClaimRequest(ctx context.Context, key string) (int64, bool, error) {
	result, err := claimRequestScript.Run(ctx, r.client,
		[]string{idempotencyKeyPrefix + key},
		inFlightMarker, idempotencyKeyTTL.Milliseconds(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("claim request: %w", err)
	}

	if result == inFlightMarker {
		return 0, false, nil
	}

	orderID, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("claim request: corrupt value %q: %w", result, err)
	}
	return orderID, false, nil
}

func (r *RedisAdapter) CompleteRequest(ctx context.Context, key string, orderID int64) error {
	return r.client.Set(ctx, idempotencyKeyPrefix+key, orderID, idempotencyKeyTTL).Err()
}

func (r *RedisAdapter) ReleaseRequest(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

var _ port.CacheRepository = (*RedisAdapter)(nil)
