package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/prperemyshlev/chatsync/pkg/database"
	"github.com/redis/go-redis/v9"
)

// redisStorage implements KeyValueStorage on top of Redis strings
type redisStorage struct {
	redis     *database.Redis
	namespace string
}

// NewRedisStorage creates a Redis-backed storage. Keys are prefixed with namespace.
func NewRedisStorage(r *database.Redis, namespace string) KeyValueStorage {
	return &redisStorage{redis: r, namespace: namespace}
}

func (s *redisStorage) key(k string) string {
	return fmt.Sprintf("%s:kv:%s", s.namespace, k)
}

func (s *redisStorage) Get(ctx context.Context, key string) (string, error) {
	v, err := s.redis.Client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return v, nil
}

func (s *redisStorage) Set(ctx context.Context, key, value string) error {
	if err := s.redis.Client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *redisStorage) MultiSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}

	_, err := s.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range pairs {
			pipe.Set(ctx, s.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %d keys: %w", len(pairs), err)
	}
	return nil
}

func (s *redisStorage) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, key)
}

func (s *redisStorage) MultiRemove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	if err := s.redis.Client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to remove %d keys: %w", len(keys), err)
	}
	return nil
}

func (s *redisStorage) Close() error {
	return s.redis.Close()
}
