package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "hub:kv:"
	redisIndexKey  = "hub:kv:index"
)

// RedisStore handles Redis-backed key/value operations.
// Values live in plain string keys; a sorted set with equal scores holds every
// key so prefix scans come back in lexicographic order via ZRANGEBYLEX.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client so the rate limiter can share the connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Name() string { return "redis" }

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get retrieves the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Put stores value and records key in the index.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key, value, 0)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: 0, Member: key})
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes key and its index entry.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, redisKeyPrefix+key)
	pipe.ZRem(ctx, redisIndexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

// Scan pages through the lexicographic index and fetches values with MGET.
func (s *RedisStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	const pageSize = 256

	max := "+"
	if end := prefixEnd(prefix); end != "" {
		max = "(" + end
	}
	min := "[" + prefix
	if prefix == "" {
		min = "-"
	}

	for {
		keys, err := s.client.ZRangeByLex(ctx, redisIndexKey, &redis.ZRangeBy{
			Min:   min,
			Max:   max,
			Count: pageSize,
		}).Result()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		full := make([]string, len(keys))
		for i, k := range keys {
			full[i] = redisKeyPrefix + k
		}
		values, err := s.client.MGet(ctx, full...).Result()
		if err != nil {
			return err
		}

		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				// Deleted between ZRANGEBYLEX and MGET
				continue
			}
			if !fn(keys[i], []byte(str)) {
				return nil
			}
		}

		if len(keys) < pageSize {
			return nil
		}
		min = "(" + keys[len(keys)-1]
	}
}
