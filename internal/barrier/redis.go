package barrier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps arrivals in a Redis set per barrier so several service
// instances see the same barrier state.
type RedisTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisTracker creates a tracker. Barrier sets expire after ttl.
func NewRedisTracker(rdb *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{rdb: rdb, ttl: ttl}
}

func barrierKey(barrier string) string {
	return "barrier:" + barrier
}

func (t *RedisTracker) Arrive(ctx context.Context, barrier, participantID string, expected int) (Status, error) {
	if expected <= 0 {
		return Status{}, ErrExpected
	}
	key := barrierKey(barrier)

	var added *redis.IntCmd
	var count *redis.IntCmd
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, participantID)
		count = pipe.SCard(ctx, key)
		pipe.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return Status{}, fmt.Errorf("redis: arrive at %s: %w", barrier, err)
	}
	return newStatus(int(count.Val()), expected, added.Val() == 1), nil
}

func (t *RedisTracker) Status(ctx context.Context, barrier string, expected int) (Status, error) {
	if expected <= 0 {
		return Status{}, ErrExpected
	}
	n, err := t.rdb.SCard(ctx, barrierKey(barrier)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("redis: barrier %s: %w", barrier, err)
	}
	return newStatus(int(n), expected, false), nil
}

var _ Tracker = (*RedisTracker)(nil)
