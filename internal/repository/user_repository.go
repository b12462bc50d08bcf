package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"go.uber.org/zap"
)

const userKey = "user"

// userRepository caches the current user, mirrored to durable storage as JSON
type userRepository struct {
	mu      sync.Mutex
	storage KeyValueStorage
	logger  *zap.Logger

	cached *domain.User
	loaded bool
}

// NewUserRepository creates a new user repository
func NewUserRepository(storage KeyValueStorage, logger *zap.Logger) UserRepository {
	return &userRepository{storage: storage, logger: logger}
}

// Save persists the user without its password
func (r *userRepository) Save(ctx context.Context, user *domain.User) bool {
	if user == nil {
		return false
	}

	clean := user.Sanitized()
	data, err := json.Marshal(clean)
	if err != nil {
		r.logger.Error("Failed to encode user", zap.Error(err))
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.storage.Set(ctx, userKey, string(data)); err != nil {
		r.logger.Error("Failed to persist user", zap.String("user_id", user.ID), zap.Error(err))
		return false
	}

	r.cached = clean
	r.loaded = true
	return true
}

// Get returns a copy of the cached user or nil. bypassCache forces a durable re-read.
func (r *userRepository) Get(ctx context.Context, bypassCache bool) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded && !bypassCache {
		return r.cached.Clone()
	}

	raw, err := r.storage.Get(ctx, userKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.cached = nil
			r.loaded = true
			return nil
		}
		r.logger.Warn("Failed to read user, using cached value", zap.Error(err))
		return r.cached.Clone()
	}

	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		r.logger.Warn("Discarding undecodable cached user", zap.Error(err))
		r.cached = nil
		r.loaded = true
		return nil
	}

	r.cached = &user
	r.loaded = true
	return r.cached.Clone()
}

// Clear removes the user. The cache is cleared even if the durable delete fails.
func (r *userRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cached = nil
	r.loaded = true

	if err := r.storage.Remove(ctx, userKey); err != nil {
		r.logger.Error("Failed to remove user from storage", zap.Error(err))
		return err
	}
	return nil
}

// ClearCache drops the in-memory copy so the next Get reads durable storage
func (r *userRepository) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cached = nil
	r.loaded = false
}
