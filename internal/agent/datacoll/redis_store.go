package datacoll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces pushed values in Redis.
const RedisKeyPrefix = "beacon:push:"

// RedisStore keeps pushed values in Redis as JSON with a TTL.
// Keys are namespaced: beacon:push:{name}
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. A ttl of 0 keeps values
// without expiration.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Key returns the Redis key for a parameter name.
func (s *RedisStore) Key(name string) string {
	return RedisKeyPrefix + name
}

// Put implements ValueStore.
func (s *RedisStore) Put(ctx context.Context, v Value) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return s.client.Set(ctx, s.Key(v.Name), data, s.ttl).Err()
}

// Get implements ValueStore.
func (s *RedisStore) Get(ctx context.Context, name string) (Value, error) {
	data, err := s.client.Get(ctx, s.Key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Value{}, ErrValueNotFound
	}
	if err != nil {
		return Value{}, err
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("failed to decode value %q: %w", name, err)
	}
	return v, nil
}

// List implements ValueStore. Keys that expire between scan and read are
// skipped.
func (s *RedisStore) List(ctx context.Context) ([]Value, error) {
	var values []Value
	iter := s.client.Scan(ctx, 0, RedisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		v, err := s.Get(ctx, strings.TrimPrefix(iter.Val(), RedisKeyPrefix))
		if errors.Is(err, ErrValueNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sortByName(values)
	return values, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
