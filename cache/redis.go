package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	rconn "github.com/secfix-research/maintscan/redis"
)

// DefaultRedisKey is the hash that holds cache entries in Redis.
const DefaultRedisKey = "maintscan:cache"

// RedisStore keeps entries as fields of a single Redis hash.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// OpenRedis connects to url and checks the connection.
func OpenRedis(ctx context.Context, url, hashKey string) (*RedisStore, error) {
	rdb, err := rconn.ConnectToRedisURL(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(rdb, hashKey), nil
}

func NewRedisStore(rdb *redis.Client, hashKey string) *RedisStore {
	if hashKey == "" {
		hashKey = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: hashKey}
}

func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	v, err := s.rdb.HGet(ctx, s.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget %q: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("cache set %q: invalid JSON", key)
	}
	if err := s.rdb.HSet(ctx, s.key, key, []byte(value)).Err(); err != nil {
		return fmt.Errorf("redis hset %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.rdb.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("redis hdel %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
