package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/realtime"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeBackend serves the chat REST API under /api and the realtime socket under /ws
type fakeBackend struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	user          domain.User
	conversations map[string]domain.Conversation
	listed        []string
	messages      map[string][]domain.Message
	conns         []*websocket.Conn
	tokens        []string
	received      chan realtime.Envelope
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		user: domain.User{
			ID:        "u1",
			Name:      "Ada",
			Phone:     "0123456789",
			CreatedAt: t0,
		},
		conversations: map[string]domain.Conversation{
			"c1": {ID: "c1", ParticipantIDs: []string{"u1", "u2"}, CreatedAt: t0, UpdatedAt: t0},
			"c9": {ID: "c9", IsGroup: true, Name: "Launch", ParticipantIDs: []string{"u3", "u1"}, CreatedAt: t0, UpdatedAt: t0},
		},
		listed: []string{"c1"},
		messages: map[string][]domain.Message{
			"c1": {{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hello", Type: domain.MessageTypeText, SentAt: t0, ReadBy: []string{"u2"}}},
		},
		received: make(chan realtime.Envelope, 32),
	}

	router := gin.New()
	api := router.Group("/api")
	{
		api.POST("/auth/login", b.login)
		api.POST("/auth/refresh", b.refresh)
		api.GET("/users/me", b.authorized, b.me)
		api.GET("/conversations", b.authorized, b.listConversations)
		api.GET("/conversations/:id", b.authorized, b.getConversation)
		api.GET("/conversations/:id/messages", b.authorized, b.listMessages)
	}
	router.GET("/ws", b.socket)

	b.Server = httptest.NewServer(router)
	t.Cleanup(func() {
		b.closeAll()
		b.Server.Close()
	})
	return b
}

func (b *fakeBackend) login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Password != "secret" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Message: "invalid credentials", ErrorCode: 401})
		return
	}

	b.mu.Lock()
	user := b.user
	b.mu.Unlock()

	c.JSON(http.StatusOK, dto.AuthResponse{Success: true, User: &user, AccessToken: "t1", RefreshToken: "r1"})
}

func (b *fakeBackend) refresh(c *gin.Context) {
	c.JSON(http.StatusOK, dto.AuthResponse{Success: true, AccessToken: "t2", RefreshToken: "r2"})
}

func (b *fakeBackend) authorized(c *gin.Context) {
	switch c.GetHeader("Authorization") {
	case "Bearer t1", "Bearer t2":
		c.Next()
	default:
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Message: "unauthorized"})
	}
}

func (b *fakeBackend) me(c *gin.Context) {
	b.mu.Lock()
	user := b.user
	b.mu.Unlock()

	c.JSON(http.StatusOK, dto.UserResponse{Success: true, User: &user})
}

func (b *fakeBackend) listConversations(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Conversation, 0, len(b.listed))
	for _, id := range b.listed {
		out = append(out, b.conversations[id])
	}
	c.JSON(http.StatusOK, dto.ConversationsResponse{Success: true, Conversations: out})
}

func (b *fakeBackend) getConversation(c *gin.Context) {
	b.mu.Lock()
	conv, ok := b.conversations[c.Param("id")]
	b.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Message: "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, dto.ConversationResponse{Success: true, Conversation: &conv})
}

func (b *fakeBackend) listMessages(c *gin.Context) {
	b.mu.Lock()
	msgs := append([]domain.Message{}, b.messages[c.Param("id")]...)
	b.mu.Unlock()

	c.JSON(http.StatusOK, dto.MessagesResponse{Success: true, Messages: msgs})
}

func (b *fakeBackend) socket(c *gin.Context) {
	token := c.Query("token")
	if token != "t1" && token != "t2" {
		c.Status(http.StatusUnauthorized)
		return
	}

	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.tokens = append(b.tokens, token)
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if env, err := realtime.Decode(data); err == nil {
			b.received <- env
		}
	}
}

func (b *fakeBackend) apiURL() string {
	return b.URL + "/api"
}

func (b *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(b.URL, "http") + "/ws"
}

func (b *fakeBackend) lastToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.tokens) == 0 {
		return ""
	}
	return b.tokens[len(b.tokens)-1]
}

func (b *fakeBackend) push(t *testing.T, event domain.Event, payload any) {
	t.Helper()

	frame, err := realtime.Encode(event, payload)
	require.NoError(t, err)

	b.mu.Lock()
	require.NotEmpty(t, b.conns)
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// next returns the next frame the client emitted with the given type
func (b *fakeBackend) next(t *testing.T, event domain.Event) json.RawMessage {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-b.received:
			if env.Type == event {
				return env.Payload
			}
		case <-timeout:
			t.Fatalf("no %s frame received", event)
			return nil
		}
	}
}

func (b *fakeBackend) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.Close()
	}
}
