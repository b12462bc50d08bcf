package service

import (
	"context"
	"sync"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/realtime"
	"github.com/stretchr/testify/mock"
)

// MockAuthAPI mocks the remote auth endpoint
type MockAuthAPI struct {
	mock.Mock
}

func (m *MockAuthAPI) Login(ctx context.Context, req dto.LoginRequest) (*dto.AuthResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) != nil {
		return args.Get(0).(*dto.AuthResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuthAPI) Refresh(ctx context.Context, refreshToken string) (*dto.AuthResponse, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) != nil {
		return args.Get(0).(*dto.AuthResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockUserAPI mocks the remote user endpoint
type MockUserAPI struct {
	mock.Mock
}

func (m *MockUserAPI) Me(ctx context.Context) (*domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserAPI) UpdateMe(ctx context.Context, patch domain.UserPatch) (*domain.User, error) {
	args := m.Called(ctx, patch)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockChannel mocks the realtime channel and lets tests push state changes
type MockChannel struct {
	mock.Mock

	mu       sync.Mutex
	listener func(realtime.StateChange)
}

func (m *MockChannel) Connect(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockChannel) Disconnect() {
	m.Called()
}

func (m *MockChannel) OnStateChange(fn func(realtime.StateChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listener = nil
	}
}

func (m *MockChannel) pushState(sc realtime.StateChange) {
	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()
	if fn != nil {
		fn(sc)
	}
}

// MockSync mocks the sync engine's session hooks
type MockSync struct {
	mock.Mock
}

func (m *MockSync) Start(userID string) {
	m.Called(userID)
}

func (m *MockSync) Reset() {
	m.Called()
}
