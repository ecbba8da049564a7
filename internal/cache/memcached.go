package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/sirupsen/logrus"
)

// MemcacheStore shares entries between instances through memcached.
type MemcacheStore struct {
	client    *memcache.Client
	keyPrefix string
	logger    *logrus.Entry
}

func NewMemcacheStore(servers []string, timeout time.Duration, keyPrefix string) *MemcacheStore {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	client.MaxIdleConns = 10
	return &MemcacheStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logrus.WithField("component", "memcache_store"),
	}
}

func (s *MemcacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := s.client.Get(buildKey(s.keyPrefix, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memcache get: %w", err)
	}
	return item.Value, true, nil
}

func (s *MemcacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.client.Set(&memcache.Item{
		Key:        buildKey(s.keyPrefix, key),
		Value:      value,
		Expiration: expirationSeconds(ttl),
	})
	if err != nil {
		return fmt.Errorf("memcache set: %w", err)
	}
	return nil
}

func (s *MemcacheStore) Delete(ctx context.Context, key string) error {
	err := s.client.Delete(buildKey(s.keyPrefix, key))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("memcache delete: %w", err)
	}
	return nil
}

func (s *MemcacheStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(); err != nil {
		return fmt.Errorf("memcache ping: %w", err)
	}
	return nil
}

func (s *MemcacheStore) Close() error {
	return nil
}

// expirationSeconds rounds ttl up to whole seconds. Memcached reads values
// above thirty days as absolute unix timestamps, so those are converted.
func expirationSeconds(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs > 30*24*60*60 {
		return int32(time.Now().Unix() + secs)
	}
	return int32(secs)
}
