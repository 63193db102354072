package resultcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanPageSize bounds how many keys one SCAN iteration may return during
// a global flush.
const scanPageSize = 500

// RedisStore backs the quote cache with a shared Redis instance so every
// replica sees the same entries and the same flushes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

// InvalidateQuotes removes every quote entry, paging through the
// keyspace with SCAN.
func (s *RedisStore) InvalidateQuotes(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, quotePrefix+"*", scanPageSize).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
