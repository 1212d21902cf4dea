package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "jscryptoscan:inference:"

// RedisStore is a Store backed by Redis. Values are JSON-encoded and expire
// through Redis key TTLs, so expired entries are never returned.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix overrides DefaultRedisPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store using client. A non-positive ttl falls back
// to DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &RedisStore{client: client, ttl: ttl, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (model.InferenceResult, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var value model.InferenceResult
	if err := jsonutil.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value model.InferenceResult) error {
	data, err := jsonutil.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
