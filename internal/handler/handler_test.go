package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAuth struct {
	session *domain.Session
	login   dto.Result[*dto.LoginData]
}

func (s *stubAuth) Login(ctx context.Context, req dto.LoginRequest) dto.Result[*dto.LoginData] {
	return s.login
}

func (s *stubAuth) Logout(ctx context.Context) dto.Result[struct{}] {
	s.session = nil
	return dto.Ok(struct{}{}, "Logged out")
}

func (s *stubAuth) IsAuthenticated(ctx context.Context) bool {
	return s.session.IsAuthenticated()
}

func (s *stubAuth) Session(ctx context.Context) *domain.Session {
	return s.session
}

func (s *stubAuth) RefreshSession(ctx context.Context) dto.Result[*domain.TokenPair] {
	return dto.Fail[*domain.TokenPair](dto.ErrCodeUnauthorized, "no refresh token")
}

func (s *stubAuth) Close() {}

type stubUsers struct {
	user   dto.Result[*domain.User]
	update dto.Result[*domain.User]
}

func (s *stubUsers) GetUserData(ctx context.Context) dto.Result[*domain.User] {
	return s.user
}

func (s *stubUsers) UpdateUser(ctx context.Context, patch domain.UserPatch) dto.Result[*domain.User] {
	return s.update
}

func (s *stubUsers) Profile(ctx context.Context) *domain.Profile {
	return s.user.Data.Profile()
}

func newRouter(auth *stubAuth, users *stubUsers) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewSessionHandler(auth, users)
	r := gin.New()
	r.Use(LoggerMiddleware(zap.NewNop()))
	r.POST("/debug/session", h.Login)
	r.DELETE("/debug/session", h.Logout)
	r.POST("/debug/session/refresh", h.Refresh)
	r.GET("/debug/session", h.GetSession)

	authed := r.Group("/debug", RequireSession(auth))
	authed.GET("/profile", h.GetProfile)
	authed.PATCH("/profile", h.UpdateProfile)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func signedIn() *domain.Session {
	return &domain.Session{UserID: "u1", AccessToken: "t1", RefreshToken: "r1", AuthenticatedAt: time.Now()}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusFor(dto.ErrCodeUnauthorized))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(dto.ErrCodeIncompleteUser))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(dto.ErrCodeNetwork))
	assert.Equal(t, http.StatusBadGateway, statusFor(0))
	assert.Equal(t, http.StatusBadGateway, statusFor(4401))
}

func TestRequireSessionRejectsAnonymous(t *testing.T) {
	r := newRouter(&stubAuth{}, &stubUsers{})

	rec := serve(r, http.MethodGet, "/debug/profile", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, dto.ErrCodeUnauthorized, body.ErrorCode)
}

func TestGetProfileProjectsUser(t *testing.T) {
	user := &domain.User{ID: "u1", Name: "Ada", Phone: "0123456789", Password: "secret"}
	r := newRouter(&stubAuth{session: signedIn()}, &stubUsers{user: dto.Ok(user, "using cached user data")})

	rec := serve(r, http.MethodGet, "/debug/profile", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var res dto.Result[domain.Profile]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Ada", res.Data.Name)
	assert.Equal(t, "using cached user data", res.Message)
}

func TestUpdateProfileFailureUsesResultCode(t *testing.T) {
	r := newRouter(&stubAuth{session: signedIn()}, &stubUsers{
		update: dto.FailFromError[*domain.User](domain.ErrIncompleteUser),
	})

	rec := serve(r, http.MethodPatch, "/debug/profile", `{"name":""}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateProfileRejectsMalformedBody(t *testing.T) {
	r := newRouter(&stubAuth{session: signedIn()}, &stubUsers{})

	rec := serve(r, http.MethodPatch, "/debug/profile", `{"name":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginHidesTokens(t *testing.T) {
	auth := &stubAuth{login: dto.Ok(&dto.LoginData{
		User:   &domain.User{ID: "u1", Name: "Ada"},
		Tokens: domain.TokenPair{AccessToken: "t1", RefreshToken: "r1"},
	}, "Login successful")}
	r := newRouter(auth, &stubUsers{})

	rec := serve(r, http.MethodPost, "/debug/session", `{"phone":"0123456789","password":"secret"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "t1")
	assert.NotContains(t, rec.Body.String(), "r1")
}

func TestLoginFailureStatus(t *testing.T) {
	auth := &stubAuth{login: dto.Fail[*dto.LoginData](dto.ErrCodeBadRequest, "invalid phone number")}
	r := newRouter(auth, &stubUsers{})

	rec := serve(r, http.MethodPost, "/debug/session", `{"phone":"x","password":"secret"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid phone number")
}

func TestSessionLifecycle(t *testing.T) {
	auth := &stubAuth{session: signedIn()}
	r := newRouter(auth, &stubUsers{})

	var body map[string]any
	require.NoError(t, json.Unmarshal(serve(r, http.MethodGet, "/debug/session", "").Body.Bytes(), &body))
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "u1", body["userId"])
	assert.NotContains(t, body, "accessToken")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodDelete, "/debug/session", "").Code)

	require.NoError(t, json.Unmarshal(serve(r, http.MethodGet, "/debug/session", "").Body.Bytes(), &body))
	assert.Equal(t, false, body["authenticated"])

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/debug/session/refresh", "").Code)
}
