package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"go.uber.org/zap"
)

const (
	accessTokenKey  = "accessToken"
	refreshTokenKey = "refreshToken"
)

// tokenRepository caches the token pair in memory and mirrors it to durable storage.
// mu is held across the durable call and the cache update, so concurrent saves
// resolve in completion order and no reader sees the cache out of step with storage.
type tokenRepository struct {
	mu      sync.Mutex
	storage KeyValueStorage
	logger  *zap.Logger

	cached *domain.TokenPair
	loaded bool
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(storage KeyValueStorage, logger *zap.Logger) TokenRepository {
	return &tokenRepository{storage: storage, logger: logger}
}

// Save persists both tokens in one write. The cache changes only if the write succeeded.
func (r *tokenRepository) Save(ctx context.Context, tokens domain.TokenPair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.storage.MultiSet(ctx, map[string]string{
		accessTokenKey:  tokens.AccessToken,
		refreshTokenKey: tokens.RefreshToken,
	})
	if err != nil {
		r.logger.Error("Failed to persist tokens", zap.Error(err))
		return false
	}

	pair := tokens
	r.cached = &pair
	r.loaded = true
	return true
}

// Get returns the current token pair or nil. bypassCache forces a durable re-read.
func (r *tokenRepository) Get(ctx context.Context, bypassCache bool) *domain.TokenPair {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded && !bypassCache {
		return copyPair(r.cached)
	}

	access, err := r.storage.Get(ctx, accessTokenKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.cached = nil
			r.loaded = true
			return nil
		}
		r.logger.Warn("Failed to read tokens, using cached value", zap.Error(err))
		return copyPair(r.cached)
	}

	refresh, err := r.storage.Get(ctx, refreshTokenKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Warn("Failed to read refresh token", zap.Error(err))
	}

	if access == "" {
		r.cached = nil
	} else {
		r.cached = &domain.TokenPair{AccessToken: access, RefreshToken: refresh}
	}
	r.loaded = true
	return copyPair(r.cached)
}

// Clear removes the tokens. The cache is cleared even if the durable delete fails.
func (r *tokenRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cached = nil
	r.loaded = true

	if err := r.storage.MultiRemove(ctx, accessTokenKey, refreshTokenKey); err != nil {
		r.logger.Error("Failed to remove tokens from storage", zap.Error(err))
		return err
	}
	return nil
}

func copyPair(p *domain.TokenPair) *domain.TokenPair {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
