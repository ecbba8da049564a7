// Package lock serializes mutations of the same account.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// wait deadline.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Lock is a held lock. Value identifies the holder.
type Lock struct {
	Key        string
	Value      string
	TTL        time.Duration
	AcquiredAt time.Time
}

// Locker acquires exclusive named locks.
type Locker interface {
	// Acquire blocks until the lock is held, ctx is done or the locker's
	// wait timeout elapses.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error)
	Release(ctx context.Context, lock *Lock) error
}

// AccountLockManager takes per-account locks in a deadlock-free order.
type AccountLockManager struct {
	locker Locker
	ttl    time.Duration
	logger *logrus.Entry
}

func NewAccountLockManager(locker Locker, ttl time.Duration) *AccountLockManager {
	return &AccountLockManager{
		locker: locker,
		ttl:    ttl,
		logger: logrus.WithField("component", "account_locks"),
	}
}

// LockAccounts acquires the lock of every distinct account id in ascending
// order. The returned function releases them all.
func (m *AccountLockManager) LockAccounts(ctx context.Context, accountIDs ...int64) (func(), error) {
	ids := uniqueSorted(accountIDs)
	held := make([]*Lock, 0, len(ids))

	release := func() {
		// Release with a fresh context so a cancelled request still frees
		// its locks.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := m.locker.Release(releaseCtx, held[i]); err != nil {
				m.logger.WithError(err).WithField("key", held[i].Key).Warn("Failed to release account lock")
			}
		}
	}

	for _, id := range ids {
		l, err := m.locker.Acquire(ctx, AccountKey(id), m.ttl)
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to lock account %d: %w", id, err)
		}
		held = append(held, l)
	}
	return release, nil
}

// AccountKey is the lock name of an account.
func AccountKey(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
