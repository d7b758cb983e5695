package redisx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

// ============================================
// Locker Tests
// ============================================

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	mr := newTestRedis(t)
	locker := NewRedisLocker(New(mr.Addr()))
	ctx := context.Background()
	key := fmt.Sprintf(KeyCheckoutLock, "user-1")

	release, err := locker.Acquire(ctx, key, time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	_, err = locker.Acquire(ctx, key, time.Minute, 0)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.True(t, apperr.Retryable(err))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(key))

	release, err = locker.Acquire(ctx, key, time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLocker_ReleaseDoesNotDropForeignLock(t *testing.T) {
	mr := newTestRedis(t)
	locker := NewRedisLocker(New(mr.Addr()))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "lock:x", time.Second, 0)
	require.NoError(t, err)

	// the lease expires and someone else takes the lock
	mr.FastForward(2 * time.Second)
	other, err := locker.Acquire(ctx, "lock:x", time.Minute, 0)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("lock:x"))
	require.NoError(t, other(ctx))
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	mr := newTestRedis(t)
	locker := NewRedisLocker(New(mr.Addr()))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "lock:y", time.Minute, 0)
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = release(ctx)
	}()

	second, err := locker.Acquire(ctx, "lock:y", time.Minute, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, second(ctx))
}

func TestRedisLocker_Unavailable(t *testing.T) {
	locker := NewRedisLocker(New("127.0.0.1:1"))

	_, err := locker.Acquire(context.Background(), "lock:z", time.Minute, 0)

	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}

func TestLocalLocker_SerializesHolders(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "user-1", time.Minute, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = release(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestLocalLocker_ExpiredLeaseCanBeTaken(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "k", time.Second, 0)
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, "k", time.Second, 0)
	assert.ErrorIs(t, err, ErrLockHeld)

	now = now.Add(2 * time.Second)
	_, err = locker.Acquire(ctx, "k", time.Second, 0)
	assert.NoError(t, err)
}

// ============================================
// Idempotency / Dedup Tests
// ============================================

func TestRedisIdempotency(t *testing.T) {
	mr := newTestRedis(t)
	idem := NewRedisIdempotency(New(mr.Addr()))
	ctx := context.Background()
	key := fmt.Sprintf(KeyIdemCheckout, "user-1", "abc")

	_, ok, err := idem.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idem.Remember(ctx, key, "order-1"))
	v, ok, err := idem.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "order-1", v)
	assert.Equal(t, TTLIdempotency, mr.TTL(key))
}

func TestFirstSeen(t *testing.T) {
	mr := newTestRedis(t)
	rdb := New(mr.Addr())
	ctx := context.Background()

	first, err := FirstSeen(ctx, rdb, "notifier", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := FirstSeen(ctx, rdb, "notifier", "evt-1")
	require.NoError(t, err)
	assert.False(t, again)

	exists, err := Exists(ctx, rdb, fmt.Sprintf(KeyDedup, "notifier", "evt-1"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeduper_ForgetAllowsRetry(t *testing.T) {
	mr := newTestRedis(t)
	d := NewDeduper(New(mr.Addr()), "notifier")
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "evt-9")
	require.NoError(t, err)
	require.True(t, first)

	require.NoError(t, d.Forget(ctx, "evt-9"))

	first, err = d.FirstSeen(ctx, "evt-9")
	require.NoError(t, err)
	assert.True(t, first)
}
