package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type localEntry struct {
	sem     chan struct{}
	holder  string
	waiters int
}

// LocalLocker is an in-process keyed mutex. TTLs are ignored: a lock is held
// until released.
type LocalLocker struct {
	mu          sync.Mutex
	entries     map[string]*localEntry
	waitTimeout time.Duration
}

func NewLocalLocker(waitTimeout time.Duration) *LocalLocker {
	return &LocalLocker{
		entries:     make(map[string]*localEntry),
		waitTimeout: waitTimeout,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.waitTimeout > 0 {
		timer := time.NewTimer(l.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.leave(key, entry)
		return nil, ctx.Err()
	case <-timeout:
		l.leave(key, entry)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}

	value := uuid.New().String()
	l.mu.Lock()
	entry.holder = value
	l.mu.Unlock()

	return &Lock{Key: key, Value: value, TTL: ttl, AcquiredAt: time.Now()}, nil
}

func (l *LocalLocker) Release(ctx context.Context, lock *Lock) error {
	l.mu.Lock()
	entry, ok := l.entries[lock.Key]
	if !ok || entry.holder != lock.Value {
		l.mu.Unlock()
		return fmt.Errorf("lock not found or already released: %s", lock.Key)
	}
	entry.holder = ""
	l.mu.Unlock()

	<-entry.sem
	l.leave(lock.Key, entry)
	return nil
}

// leave drops a waiter and forgets the entry once nobody uses it.
func (l *LocalLocker) leave(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(l.entries, key)
	}
}
