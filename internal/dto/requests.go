package dto

import "github.com/prperemyshlev/chatsync/internal/domain"

// LoginRequest represents a login request
type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	OTP      string `json:"otp,omitempty"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse represents the remote login/refresh response.
// Any of User, AccessToken, RefreshToken may be missing on partial success.
type AuthResponse struct {
	Success      bool         `json:"success"`
	User         *domain.User `json:"user,omitempty"`
	AccessToken  string       `json:"accessToken,omitempty"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	Message      string       `json:"message,omitempty"`
	ErrorCode    int          `json:"errorCode,omitempty"`
}

// UserResponse represents the remote who-am-i and update responses
type UserResponse struct {
	Success bool         `json:"success"`
	User    *domain.User `json:"user,omitempty"`
	Message string       `json:"message,omitempty"`
}

// ConversationResponse wraps a single conversation
type ConversationResponse struct {
	Success      bool                 `json:"success"`
	Conversation *domain.Conversation `json:"conversation,omitempty"`
	Message      string               `json:"message,omitempty"`
}

// ConversationsResponse wraps a conversation list
type ConversationsResponse struct {
	Success       bool                  `json:"success"`
	Conversations []domain.Conversation `json:"conversations"`
	Message       string                `json:"message,omitempty"`
}

// MessageResponse wraps a single message
type MessageResponse struct {
	Success bool            `json:"success"`
	Data    *domain.Message `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// MessagesResponse wraps a message page
type MessagesResponse struct {
	Success  bool             `json:"success"`
	Messages []domain.Message `json:"messages"`
	Message  string           `json:"message,omitempty"`
}

// ErrorResponse represents an error body returned by the backend
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode int    `json:"errorCode,omitempty"`
}

// LoginData is returned to callers of a successful login
type LoginData struct {
	User   *domain.User     `json:"user"`
	Tokens domain.TokenPair `json:"tokens"`
}

// SendMessageRequest describes an outbound chat message
type SendMessageRequest struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           domain.MessageType `json:"type,omitempty"`
	RepliedToID    *string            `json:"repliedToId,omitempty"`
}

// CreateVoteRequest describes a poll to create in a conversation
type CreateVoteRequest struct {
	ConversationID string   `json:"conversationId"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	Multiple       bool     `json:"multiple"`
}
