package repository

import (
	"context"
	"fmt"
	"sync"
)

// memoryStorage keeps values in process memory. Used for tests and ephemeral sessions.
type memoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory key-value storage
func NewMemoryStorage() KeyValueStorage {
	return &memoryStorage{values: make(map[string]string)}
}

func (s *memoryStorage) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	return v, nil
}

func (s *memoryStorage) Set(ctx context.Context, key, value string) error {
	return s.MultiSet(ctx, map[string]string{key: value})
}

func (s *memoryStorage) MultiSet(ctx context.Context, pairs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range pairs {
		s.values[k] = v
	}
	return nil
}

func (s *memoryStorage) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, key)
}

func (s *memoryStorage) MultiRemove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *memoryStorage) Close() error {
	return nil
}
