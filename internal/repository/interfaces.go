package repository

import (
	"context"

	"github.com/prperemyshlev/chatsync/internal/domain"
)

// KeyValueStorage is the durable string-keyed, string-valued store backing the caches
type KeyValueStorage interface {
	// Get returns ErrNotFound when the key is absent
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	MultiSet(ctx context.Context, pairs map[string]string) error
	Remove(ctx context.Context, key string) error
	MultiRemove(ctx context.Context, keys ...string) error
	Close() error
}

// TokenRepository defines the cached credential store
type TokenRepository interface {
	Save(ctx context.Context, tokens domain.TokenPair) bool
	Get(ctx context.Context, bypassCache bool) *domain.TokenPair
	Clear(ctx context.Context) error
}

// UserRepository defines the cached current-user store
type UserRepository interface {
	Save(ctx context.Context, user *domain.User) bool
	Get(ctx context.Context, bypassCache bool) *domain.User
	Clear(ctx context.Context) error
	ClearCache()
}
