package redisx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = fmt.Errorf("lock held by another request: %w", apperr.ErrConflict)

const lockPollInterval = 20 * time.Millisecond

// Locker is an advisory mutual-exclusion lock keyed by name. Acquire waits up
// to wait for the lock and returns a release func; the lock expires after ttl
// if it is never released.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(context.Context) error, err error)
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", apperr.ErrUnavailable, key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				err := unlockScript.Run(ctx, l.rdb, []string{key}, token).Err()
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}, nil
		}
		if err := sleep(ctx, deadline); err != nil {
			return nil, err
		}
	}
}

// LocalLocker serializes within one process. It is used when no Redis is
// configured.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localLease
	clock func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLease), clock: time.Now}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		if l.tryLock(key, token, ttl) {
			return func(context.Context) error {
				l.mu.Lock()
				defer l.mu.Unlock()
				if lease, ok := l.held[key]; ok && lease.token == token {
					delete(l.held, key)
				}
				return nil
			}, nil
		}
		if err := sleep(ctx, deadline); err != nil {
			return nil, err
		}
	}
}

func (l *LocalLocker) tryLock(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return false
	}
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}
	return true
}

func sleep(ctx context.Context, deadline time.Time) error {
	if !time.Now().Before(deadline) {
		return ErrLockHeld
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(lockPollInterval):
		return nil
	}
}
