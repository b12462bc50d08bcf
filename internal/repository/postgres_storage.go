package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/prperemyshlev/chatsync/pkg/database"
)

// postgresStorage implements KeyValueStorage on the kv_store table
type postgresStorage struct {
	db        *database.Postgres
	namespace string
}

// NewPostgresStorage creates a Postgres-backed storage. The kv_store table must be migrated.
func NewPostgresStorage(db *database.Postgres, namespace string) KeyValueStorage {
	return &postgresStorage{db: db, namespace: namespace}
}

func (s *postgresStorage) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM kv_store WHERE namespace = $1 AND key = $2`

	var value string
	err := s.db.DB.QueryRowContext(ctx, query, s.namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

func (s *postgresStorage) Set(ctx context.Context, key, value string) error {
	return s.MultiSet(ctx, map[string]string{key: value})
}

// MultiSet upserts every pair in a single statement
func (s *postgresStorage) MultiSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(pairs))
	values := make([]string, 0, len(pairs))
	for k, v := range pairs {
		keys = append(keys, k)
		values = append(values, v)
	}

	query := `
		INSERT INTO kv_store (namespace, key, value, updated_at)
		SELECT $1, k, v, NOW() FROM UNNEST($2::text[], $3::text[]) AS t(k, v)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.DB.ExecContext(ctx, query, s.namespace, pq.Array(keys), pq.Array(values)); err != nil {
		return fmt.Errorf("failed to set %d keys: %w", len(pairs), err)
	}
	return nil
}

func (s *postgresStorage) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, key)
}

func (s *postgresStorage) MultiRemove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	query := `DELETE FROM kv_store WHERE namespace = $1 AND key = ANY($2)`

	if _, err := s.db.DB.ExecContext(ctx, query, s.namespace, pq.Array(keys)); err != nil {
		return fmt.Errorf("failed to remove %d keys: %w", len(keys), err)
	}
	return nil
}

func (s *postgresStorage) Close() error {
	return s.db.Close()
}
