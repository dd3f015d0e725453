package poll

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker guards the sweep against concurrent execution across ticks and
// instances.
type Locker interface {
	// Acquire returns a release func and whether the lock was obtained.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// RedisLocker implements Locker with SETNX + TTL. The TTL covers a sweep that
// outlives its tick; release is best effort since expiry backstops it.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() { _ = l.rdb.Del(context.Background(), key).Err() }, true, nil
}

// NoopLocker always acquires. Used when redis is not configured; single
// instance deployments stay correct because row transitions are conditional.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}
