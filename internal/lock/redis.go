package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix    = "lock:"
	releaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

// RedisLocker holds locks as redis keys set with NX and a TTL, so a crashed
// holder cannot keep an account locked forever.
type RedisLocker struct {
	client        *redis.Client
	waitTimeout   time.Duration
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client, waitTimeout, retryInterval time.Duration) *RedisLocker {
	if retryInterval <= 0 {
		retryInterval = 25 * time.Millisecond
	}
	return &RedisLocker{
		client:        client,
		waitTimeout:   waitTimeout,
		retryInterval: retryInterval,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := lockPrefix + key
	lockValue := uuid.New().String()

	deadline := time.Now().Add(r.waitTimeout)
	for {
		ok, err := r.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return &Lock{Key: lockKey, Value: lockValue, TTL: ttl, AcquiredAt: time.Now()}, nil
		}

		if r.waitTimeout > 0 && time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryInterval):
		}
	}
}

func (r *RedisLocker) Release(ctx context.Context, lock *Lock) error {
	result, err := r.client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("lock not found or already released: %s", lock.Key)
	}
	return nil
}
