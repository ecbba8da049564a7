package cache

import (
	"context"
	"time"

	"github.com/karlseguin/ccache/v2"
)

// LocalStore keeps entries in an in-process LRU. Entries are lost on
// restart and are not shared between instances.
type LocalStore struct {
	cache     *ccache.Cache
	keyPrefix string
}

func NewLocalStore(maxEntries int64, keyPrefix string) *LocalStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &LocalStore{
		cache: ccache.New(ccache.Configure().
			MaxSize(maxEntries).
			ItemsToPrune(uint32(maxEntries/20 + 1)).
			DeleteBuffer(256).
			PromoteBuffer(256).
			GetsPerPromote(3)),
		keyPrefix: keyPrefix,
	}
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item := s.cache.Get(buildKey(s.keyPrefix, key))
	if item == nil || item.Expired() {
		return nil, false, nil
	}
	value, ok := item.Value().([]byte)
	return value, ok, nil
}

func (s *LocalStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.cache.Set(buildKey(s.keyPrefix, key), value, ttl)
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	s.cache.Delete(buildKey(s.keyPrefix, key))
	return nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	return nil
}

func (s *LocalStore) Close() error {
	s.cache.Stop()
	return nil
}

func buildKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
