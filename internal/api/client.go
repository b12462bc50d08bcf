package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"go.uber.org/zap"
)

// TokenSource yields the bearer token for authenticated calls; "" means anonymous
type TokenSource func(ctx context.Context) string

// StatusError is a non-2xx backend response
type StatusError struct {
	StatusCode int
	Message    string
	Code       int
	err        error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.err
}

// Client talks to the chat backend REST API
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient creates a REST client. tokens may be nil for anonymous use.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:     tokens,
		logger:     logger,
	}
}

// Login exchanges credentials for a user and token pair
func (c *Client) Login(ctx context.Context, req dto.LoginRequest) (*dto.AuthResponse, error) {
	var out dto.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh rotates the token pair
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*dto.AuthResponse, error) {
	var out dto.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", dto.RefreshRequest{RefreshToken: refreshToken}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var out dto.UserResponse
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &out, true); err != nil {
		return nil, err
	}
	if !out.Success || out.User == nil {
		return nil, fmt.Errorf("who-am-i returned no user: %s: %w", out.Message, domain.ErrNotFound)
	}
	return out.User, nil
}

// UpdateMe sends a partial update and returns the server-confirmed user
func (c *Client) UpdateMe(ctx context.Context, patch domain.UserPatch) (*domain.User, error) {
	var out dto.UserResponse
	if err := c.do(ctx, http.MethodPatch, "/users/me", patch, &out, true); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &StatusError{StatusCode: http.StatusOK, Message: out.Message}
	}
	return out.User, nil
}

// ListConversations returns every conversation of the user
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out dto.ConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation returns one conversation
func (c *Client) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var out dto.ConversationResponse
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &out, true); err != nil {
		return nil, err
	}
	if out.Conversation == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return out.Conversation, nil
}

// ListMessages returns the latest limit messages of a conversation
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var out dto.MessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// GetMessage returns one message
func (c *Client) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var out dto.MessageResponse
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, &out, true); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, authenticated bool) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if authenticated && c.tokens != nil {
		if token := c.tokens(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.logger.Debug("Backend unreachable", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
		return nil
	}

	var eb dto.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	statusErr := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(eb.Message), Code: eb.ErrorCode}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		statusErr.err = domain.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		statusErr.err = domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		statusErr.err = domain.ErrNetwork
	}
	return statusErr
}
