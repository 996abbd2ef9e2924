// Package lock implements the conflict/lock manager on Redis. The lock is
// a correctness aid for the commit window, not the source of truth: the
// ledger re-verifies overlap at commit time regardless.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

// releaseScript deletes the key only when the caller still owns it, so a
// slow holder cannot release a lock the TTL already handed to someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client         *redis.Client
	acquireTimeout time.Duration
	retryInterval  time.Duration
	log            *slog.Logger
}

func NewRedisLocker(client *redis.Client, acquireTimeout time.Duration, log *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client:         client,
		acquireTimeout: acquireTimeout,
		retryInterval:  50 * time.Millisecond,
		log:            log,
	}
}

// Acquire takes every key with a single owner token, retrying until the
// acquisition timeout. Contention past the bound is domain.ErrTimeout
// (retryable); an unreachable Redis is domain.ErrLockUnavailable so the
// caller can fall back to the ledger check.
func (l *RedisLocker) Acquire(ctx context.Context, keys []string, ttl time.Duration) (func(), error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(l.acquireTimeout)

	var held []string
	release := func() {
		for _, k := range held {
			if err := releaseScript.Run(context.Background(), l.client, []string{k}, owner).Err(); err != nil && err != redis.Nil {
				l.log.Warn("lock release failed", "key", k, "err", err)
			}
		}
	}

	for _, key := range keys {
		for {
			ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
			if err != nil {
				release()
				return nil, fmt.Errorf("redis setnx %s: %v: %w", key, err, domain.ErrLockUnavailable)
			}
			if ok {
				held = append(held, key)
				break
			}
			if time.Now().After(deadline) {
				release()
				return nil, fmt.Errorf("keys contended past %s: %w", l.acquireTimeout, domain.ErrTimeout)
			}
			select {
			case <-ctx.Done():
				release()
				return nil, ctx.Err()
			case <-time.After(l.retryInterval):
			}
		}
	}
	return release, nil
}
