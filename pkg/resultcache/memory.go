package resultcache

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps quote entries in-process. It serves single-replica
// deployments and environments without a reachable Redis.
type MemoryStore struct {
	cache *ttlcache.Cache[string, []byte]
}

func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New[string, []byte](
		ttlcache.WithTTL[string, []byte](DefaultTTL),
		// a hit must not refresh the entry; expiry is fixed at write time
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := s.cache.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	s.cache.Set(key, payload, ttl)
	return nil
}

func (s *MemoryStore) InvalidateQuotes(_ context.Context) error {
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, quotePrefix) {
			s.cache.Delete(key)
		}
	}
	return nil
}

// Close stops the expiry loop started by NewMemoryStore.
func (s *MemoryStore) Close() {
	s.cache.Stop()
}
