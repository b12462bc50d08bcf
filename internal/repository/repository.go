package repository

import "go.uber.org/zap"

// Repositories holds all repository interfaces
type Repositories struct {
	User    UserRepository
	Token   TokenRepository
	Storage KeyValueStorage
}

// NewRepositories creates all repositories over one storage backend
func NewRepositories(storage KeyValueStorage, logger *zap.Logger) *Repositories {
	return &Repositories{
		User:    NewUserRepository(storage, logger.Named("user_store")),
		Token:   NewTokenRepository(storage, logger.Named("token_store")),
		Storage: storage,
	}
}

// Close releases the storage backend
func (r *Repositories) Close() error {
	return r.Storage.Close()
}
