// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/samber/oops"
)

// DefaultOpTimeout bounds every single cache round trip.
const DefaultOpTimeout = 500 * time.Millisecond

// compareAndDelete removes KEYS[1] only when it holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	URL        string
	Password   string
	DB         int // negative keeps the database from the URL
	MaxRetries int
	PoolSize   int
	OpTimeout  time.Duration
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, oops.Code("CACHE_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}

	if opts.Password != "" {
		redisOpts.Password = opts.Password
	}
	if opts.DB >= 0 {
		redisOpts.DB = opts.DB
	}
	if opts.MaxRetries > 0 {
		redisOpts.MaxRetries = opts.MaxRetries
	}
	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}

	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second
	redisOpts.PoolTimeout = 4 * time.Second

	s := NewRedisStoreFromClient(redis.NewClient(redisOpts), opts.OpTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		_ = s.client.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.Code("CACHE_UNAVAILABLE").With("operation", "ping redis").Wrap(err)
	}

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. A non-positive opTimeout
// uses DefaultOpTimeout.
func NewRedisStoreFromClient(client *redis.Client, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &RedisStore{client: client, opTimeout: opTimeout}
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func unavailable(op, key string, err error) error {
	return oops.Code("CACHE_UNAVAILABLE").With("operation", op).With("key", key).Wrap(err)
}

// Get returns the value at key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", unavailable("get", key, err)
	}
	return val, nil
}

// Set stores value at key with ttl.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// GetDel returns and removes the value at key in one command.
func (s *RedisStore) GetDel(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	val, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", unavailable("getdel", key, err)
	}
	return val, nil
}

// CompareAndDelete runs the compare-and-delete script against key.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, expected).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("compare and delete", key, err)
	}
	return n == 1, nil
}

// Delete removes keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", keys[0], err)
	}
	return nil
}

// DeletePattern walks the keyspace with SCAN and removes matching keys.
// It is not bounded by the per-operation timeout.
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return unavailable("del", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return oops.Code("CACHE_UNAVAILABLE").With("operation", "scan").With("pattern", pattern).Wrap(err)
	}
	return nil
}

// Incr increments the counter at key.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return n, nil
}

// AddToSet adds members and refreshes the set TTL in one transaction.
func (s *RedisStore) AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, args...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return unavailable("sadd", key, err)
	}
	return nil
}

// RemoveFromSet removes members from the set at key.
func (s *RedisStore) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key, args...).Err(); err != nil {
		return unavailable("srem", key, err)
	}
	return nil
}

// SetMembers lists the set at key.
func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("smembers", key, err)
	}
	return members, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return oops.Code("CACHE_UNAVAILABLE").With("operation", "ping").Wrap(err)
	}
	return nil
}

// Close closes the Redis connection pool.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return oops.With("operation", "close redis").Wrap(err)
	}
	return nil
}

// PoolStats exposes connection pool statistics for health reporting.
func (s *RedisStore) PoolStats() *redis.PoolStats {
	return s.client.PoolStats()
}
