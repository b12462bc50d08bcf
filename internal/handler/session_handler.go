package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/service"
)

// SessionHandler exposes the session and profile managers on the debug surface
type SessionHandler struct {
	authService service.AuthService
	userService service.UserService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(authService service.AuthService, userService service.UserService) *SessionHandler {
	return &SessionHandler{
		authService: authService,
		userService: userService,
	}
}

// Login handles POST /debug/session
func (h *SessionHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	res := h.authService.Login(c.Request.Context(), req)
	if res.Success {
		// tokens never leave the process
		res.Data.Tokens = domain.TokenPair{}
	}
	writeResult(c, http.StatusOK, res)
}

// Logout handles DELETE /debug/session
func (h *SessionHandler) Logout(c *gin.Context) {
	writeResult(c, http.StatusOK, h.authService.Logout(c.Request.Context()))
}

// Refresh handles POST /debug/session/refresh
func (h *SessionHandler) Refresh(c *gin.Context) {
	res := h.authService.RefreshSession(c.Request.Context())
	writeResult(c, http.StatusOK, dto.Result[struct{}]{
		Success:   res.Success,
		Message:   res.Message,
		ErrorCode: res.ErrorCode,
	})
}

// GetSession handles GET /debug/session
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess := h.authService.Session(c.Request.Context())
	if !sess.IsAuthenticated() {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated":   true,
		"userId":          sess.UserID,
		"authenticatedAt": sess.AuthenticatedAt,
	})
}

// GetProfile handles GET /debug/profile. It refreshes the user from the backend first.
func (h *SessionHandler) GetProfile(c *gin.Context) {
	res := h.userService.GetUserData(c.Request.Context())
	if !res.Success {
		writeResult(c, http.StatusOK, res)
		return
	}
	writeResult(c, http.StatusOK, dto.Ok(res.Data.Profile(), res.Message))
}

// UpdateProfile handles PATCH /debug/profile
func (h *SessionHandler) UpdateProfile(c *gin.Context) {
	var patch domain.UserPatch
	if !bindJSON(c, &patch) {
		return
	}

	res := h.userService.UpdateUser(c.Request.Context(), patch)
	if !res.Success {
		writeResult(c, http.StatusOK, res)
		return
	}
	writeResult(c, http.StatusOK, dto.Ok(res.Data.Profile(), res.Message))
}
