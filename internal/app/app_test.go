package app

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
)

func (s *Suite) TestLoginPersistsSessionAndConnects() {
	rec := s.do(http.MethodPost, "/debug/session", dto.LoginRequest{Phone: "012-345-6789", Password: "secret"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[dto.Result[dto.LoginData]](s.T(), rec)
	s.True(res.Success)
	s.Equal("u1", res.Data.User.ID)
	s.Empty(res.Data.User.Password)
	s.Empty(res.Data.Tokens.AccessToken, "tokens never leave the process")

	s.waitChannel("connected")
	s.Equal("t1", s.backend.lastToken())

	tokens := s.app.repos.Token.Get(context.Background(), true)
	s.Require().NotNil(tokens)
	s.Equal(domain.TokenPair{AccessToken: "t1", RefreshToken: "r1"}, *tokens)

	sess := decodeBody[map[string]any](s.T(), s.do(http.MethodGet, "/debug/session", nil))
	s.Equal(true, sess["authenticated"])
	s.Equal("u1", sess["userId"])
}

func (s *Suite) TestLoginWithWrongPassword() {
	rec := s.do(http.MethodPost, "/debug/session", dto.LoginRequest{Phone: "0123456789", Password: "nope"})
	s.Equal(http.StatusUnauthorized, rec.Code)

	s.Nil(s.app.repos.Token.Get(context.Background(), true))
	s.Equal("disconnected", decodeBody[map[string]any](s.T(), s.do(http.MethodGet, "/debug/channel", nil))["state"])
}

func (s *Suite) TestProtectedRoutesRequireSession() {
	for _, path := range []string{"/debug/conversations", "/debug/profile", "/debug/conversations/c1/messages"} {
		rec := s.do(http.MethodGet, path, nil)
		s.Equal(http.StatusUnauthorized, rec.Code, path)
	}
}

func (s *Suite) TestBootstrapSignsInWithConfiguredCredentials() {
	s.config.Login.Phone = "0123456789"
	s.config.Login.Password = "secret"

	s.app.Bootstrap(context.Background())
	s.waitChannel("connected")

	res := decodeBody[dto.Result[[]domain.Conversation]](s.T(), s.do(http.MethodGet, "/debug/conversations", nil))
	s.Require().Len(res.Data, 1)
	s.Equal("c1", res.Data[0].ID)
}

func (s *Suite) TestBootstrapRestoresPersistedSession() {
	ctx := context.Background()
	s.Require().True(s.app.repos.Token.Save(ctx, domain.TokenPair{AccessToken: "t1", RefreshToken: "r1"}))

	s.app.Bootstrap(ctx)
	s.waitChannel("connected")

	profile := decodeBody[dto.Result[domain.Profile]](s.T(), s.do(http.MethodGet, "/debug/profile", nil))
	s.True(profile.Success)
	s.Equal("Ada", profile.Data.Name)

	_, ok := s.conversation("c1")
	s.True(ok)
}

func (s *Suite) TestParticipantAddedFetchesUnknownConversation() {
	s.login()

	_, ok := s.conversation("c9")
	s.Require().False(ok)

	s.backend.push(s.T(), domain.EventParticipantAdded, domain.ParticipantsEvent{
		ConversationID: "c9",
		UserIDs:        []string{"u1"},
		ServerTime:     t0,
	})

	s.Require().Eventually(func() bool {
		_, ok := s.conversation("c9")
		return ok
	}, waitFor, tick)

	conv, _ := s.conversation("c9")
	s.Equal("Launch", conv.Name)
	s.Contains(conv.ParticipantIDs, "u1")
}

func (s *Suite) TestSentMessageIsConfirmedByEcho() {
	s.login()

	rec := s.do(http.MethodGet, "/debug/conversations?reload=true", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/debug/conversations/c1/messages", dto.SendMessageRequest{Content: "  hi  "})
	s.Require().Equal(http.StatusAccepted, rec.Code, rec.Body.String())

	sent := decodeBody[dto.Result[trackedMessage]](s.T(), rec)
	s.Equal("pending", sent.Data.Status)
	s.Equal("hi", sent.Data.Data.Content)

	var payload domain.SendMessagePayload
	s.Require().NoError(json.Unmarshal(s.backend.next(s.T(), domain.EventSendMessage), &payload))
	s.Equal(sent.Data.Data.ClientID, payload.ClientID)
	s.Equal("c1", payload.ConversationID)

	s.backend.push(s.T(), domain.EventMessageReceived, domain.MessageEvent{
		Message: domain.Message{
			ID:             "m9",
			ClientID:       payload.ClientID,
			ConversationID: "c1",
			SenderID:       "u1",
			Content:        "hi",
			Type:           domain.MessageTypeText,
			SentAt:         t0.Add(1),
			ReadBy:         []string{"u1"},
		},
		ServerTime: t0.Add(1),
	})

	s.Require().Eventually(func() bool {
		msgs := s.messages("c1")
		return len(msgs) == 1 && msgs[0].Data.ID == "m9" && msgs[0].Status == "confirmed"
	}, waitFor, tick)

	conv, ok := s.conversation("c1")
	s.Require().True(ok)
	s.Require().NotNil(conv.LastMessage)
	s.Equal("m9", conv.LastMessage.ID)
}

func (s *Suite) TestLogoutClearsSessionAndDisconnects() {
	s.login()

	rec := s.do(http.MethodDelete, "/debug/session", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	s.waitChannel("disconnected")
	s.Nil(s.app.repos.Token.Get(context.Background(), true))
	s.Nil(s.app.repos.User.Get(context.Background(), true))

	sess := decodeBody[map[string]any](s.T(), s.do(http.MethodGet, "/debug/session", nil))
	s.Equal(false, sess["authenticated"])

	// a second logout is harmless
	s.Equal(http.StatusOK, s.do(http.MethodDelete, "/debug/session", nil).Code)
}

func (s *Suite) TestHealthAndMetrics() {
	rec := s.do(http.MethodGet, "/health", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](s.T(), rec)
	s.Equal("pass", body["status"])
	s.Equal("disconnected", body["channel"])

	rec = s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, rec.Code)
}
