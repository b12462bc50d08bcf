package service

import (
	"context"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/realtime"
)

// AuthService defines the session lifecycle operations
type AuthService interface {
	Login(ctx context.Context, req dto.LoginRequest) dto.Result[*dto.LoginData]
	Logout(ctx context.Context) dto.Result[struct{}]
	IsAuthenticated(ctx context.Context) bool
	Session(ctx context.Context) *domain.Session
	RefreshSession(ctx context.Context) dto.Result[*domain.TokenPair]
	Close()
}

// UserService defines the current-user operations
type UserService interface {
	GetUserData(ctx context.Context) dto.Result[*domain.User]
	UpdateUser(ctx context.Context, patch domain.UserPatch) dto.Result[*domain.User]
	Profile(ctx context.Context) *domain.Profile
}

// AuthAPI is the remote authentication endpoint
type AuthAPI interface {
	Login(ctx context.Context, req dto.LoginRequest) (*dto.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*dto.AuthResponse, error)
}

// UserAPI is the remote current-user endpoint
type UserAPI interface {
	Me(ctx context.Context) (*domain.User, error)
	UpdateMe(ctx context.Context, patch domain.UserPatch) (*domain.User, error)
}

// RealtimeChannel is the part of the realtime client the session owns
type RealtimeChannel interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	OnStateChange(fn func(realtime.StateChange)) func()
}

// SyncState is notified when a user session starts and ends
type SyncState interface {
	Start(userID string)
	Reset()
}
