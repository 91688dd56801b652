// Package redis provides Redis-based adapters for the portal agent.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	apperrors "github.com/target/portal-session/internal/errors"
)

// KVStore is a Redis-backed durable key-value store.
// Reads use a single MGET; writes and deletes run in one MULTI/EXEC so
// readers never observe half of a multi-key update.
type KVStore struct {
	client redis.UniversalClient
	prefix string
}

// DefaultPrefix keeps every key in one cluster hash slot so MGET and
// MULTI/EXEC work against Redis Cluster too.
const DefaultPrefix = "{portal}:"

// NewKVStore creates a Redis key-value store with the default prefix.
func NewKVStore(client redis.UniversalClient) *KVStore {
	return &KVStore{
		client: client,
		prefix: DefaultPrefix,
	}
}

// NewKVStoreWithPrefix creates a Redis key-value store with a custom key prefix.
func NewKVStoreWithPrefix(client redis.UniversalClient, prefix string) *KVStore {
	return &KVStore{
		client: client,
		prefix: prefix,
	}
}

func (s *KVStore) key(k string) string { return s.prefix + k }

func (s *KVStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", apperrors.MapRedisError(err))
	}

	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("redis mget: unexpected value type %T for %s", v, keys[i])
		}
		out[keys[i]] = str
	}
	return out, nil
}

func (s *KVStore) Set(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	for k := range entries {
		if k == "" {
			return errors.New("key cannot be empty")
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			pipe.Set(ctx, s.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", apperrors.MapRedisError(err))
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil // Nothing to delete
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	// DEL with several keys is a single atomic command.
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", apperrors.MapRedisError(err))
	}
	return nil
}
