package syncengine

import (
	"context"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockFetcher mocks the REST surface
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFetcher) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFetcher) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFetcher) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockEmitter mocks the realtime channel's outbound side
type MockEmitter struct {
	mock.Mock
}

func (m *MockEmitter) Emit(ctx context.Context, event domain.Event, payload any) error {
	args := m.Called(ctx, event, payload)
	return args.Error(0)
}
