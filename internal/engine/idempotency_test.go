package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/lock"
	apperrors "tai-ledger-api/pkg/errors"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (s *mapStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *mapStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func newTestIdempotencyManager(store IdempotencyStore) IdempotencyManager {
	return NewIdempotencyManager(store, lock.NewLocalLocker(5*time.Second), 0, 0)
}

func TestIdempotentOperationRunsOnce(t *testing.T) {
	store := newMapStore()
	manager := newTestIdempotencyManager(store)
	ctx := context.Background()

	var calls int32
	op := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]string{"status": "ok"}, nil
	}

	first, replayed, err := manager.ProcessIdempotentOperation(ctx, "key-1", op)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.JSONEq(t, `{"status":"ok"}`, string(first))

	second, replayed, err := manager.ProcessIdempotentOperation(ctx, "key-1", op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, DefaultSuccessTTL, store.ttls["key-1"])

	require.NoError(t, manager.InvalidateIdempotencyKey(ctx, "key-1"))
	_, replayed, err = manager.ProcessIdempotentOperation(ctx, "key-1", op)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotentOperationConcurrentCallers(t *testing.T) {
	manager := newTestIdempotencyManager(newMapStore())
	ctx := context.Background()

	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := manager.ProcessIdempotentOperation(ctx, "shared", func() (interface{}, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(5 * time.Millisecond)
				return "done", nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdempotentOperationReplaysDomainFailure(t *testing.T) {
	store := newMapStore()
	manager := newTestIdempotencyManager(store)
	ctx := context.Background()

	var calls int32
	failing := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.NewInsufficientFundsError("TAI")
	}

	_, replayed, err := manager.ProcessIdempotentOperation(ctx, "key-2", failing)
	assertKind(t, err, apperrors.KindInsufficientFunds)
	assert.False(t, replayed)

	_, replayed, err = manager.ProcessIdempotentOperation(ctx, "key-2", failing)
	assertKind(t, err, apperrors.KindInsufficientFunds)
	assert.True(t, replayed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, DefaultFailureTTL, store.ttls["key-2"])
}

func TestIdempotentOperationDoesNotCacheInternalErrors(t *testing.T) {
	manager := newTestIdempotencyManager(newMapStore())
	ctx := context.Background()
	boom := errors.New("connection reset")

	var calls int32
	op := func() (interface{}, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return 42, nil
	}

	_, _, err := manager.ProcessIdempotentOperation(ctx, "key-3", op)
	assert.ErrorIs(t, err, boom)

	result, replayed, err := manager.ProcessIdempotentOperation(ctx, "key-3", op)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "42", string(result))
}

func TestGenerateIdempotencyKey(t *testing.T) {
	manager := newTestIdempotencyManager(newMapStore())

	a := manager.GenerateIdempotencyKey(1, "transfer", map[string]string{"amount": "5"})
	b := manager.GenerateIdempotencyKey(1, "transfer", map[string]string{"amount": "5"})
	c := manager.GenerateIdempotencyKey(1, "transfer", map[string]string{"amount": "6"})
	d := manager.GenerateIdempotencyKey(2, "transfer", map[string]string{"amount": "5"})

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestClientKeyReplaysAcrossMidnight(t *testing.T) {
	store := newMapStore()
	manager := NewIdempotencyManager(store, lock.NewLocalLocker(5*time.Second), 0, 0).(*idempotencyManager)
	ctx := context.Background()

	now := time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC)
	manager.now = func() time.Time { return now }

	var calls int32
	op := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "sent", nil
	}

	key := manager.ClientKey(7, "wallet.transfer", "retry-me")
	_, replayed, err := manager.ProcessIdempotentOperation(ctx, key, op)
	require.NoError(t, err)
	assert.False(t, replayed)

	now = now.Add(2 * time.Second)
	retryKey := manager.ClientKey(7, "wallet.transfer", "retry-me")
	assert.Equal(t, key, retryKey)

	_, replayed, err = manager.ProcessIdempotentOperation(ctx, retryKey, op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.NotEqual(t, key, manager.ClientKey(8, "wallet.transfer", "retry-me"))
	assert.NotEqual(t, key, manager.ClientKey(7, "wallet.stake", "retry-me"))
}
