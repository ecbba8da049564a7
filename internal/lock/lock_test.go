package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerMutualExclusion(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := locker.Acquire(ctx, "account:1", time.Second)
			if !assert.NoError(t, err) {
				return
			}

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)

			assert.NoError(t, locker.Release(ctx, l))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.entries)
}

func TestLocalLockerTimeout(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "account:1", time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "account:1", time.Second)
	assert.ErrorIs(t, err, ErrLockTimeout)

	other, err := locker.Acquire(ctx, "account:2", time.Second)
	require.NoError(t, err)
	require.NoError(t, locker.Release(ctx, other))

	require.NoError(t, locker.Release(ctx, held))
	assert.Error(t, locker.Release(ctx, held))
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker(0)
	held, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, locker.Release(context.Background(), held))
}

func TestLockAccountsSortsAndDeduplicates(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 7}, uniqueSorted([]int64{7, 1, 3, 7, 1}))

	manager := NewAccountLockManager(NewLocalLocker(50*time.Millisecond), time.Second)
	ctx := context.Background()

	release, err := manager.LockAccounts(ctx, 2, 1, 2)
	require.NoError(t, err)

	// A second caller touching an overlapping set must wait for the first.
	_, err = manager.LockAccounts(ctx, 1, 3)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()

	release, err = manager.LockAccounts(ctx, 3, 1)
	require.NoError(t, err)
	release()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGER_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()

	locker := NewRedisLocker(client, 50*time.Millisecond, 5*time.Millisecond)

	held, err := locker.Acquire(ctx, "test:account:1", time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "test:account:1", time.Second)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, locker.Release(ctx, held))
	assert.Error(t, locker.Release(ctx, held))
}
