package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/service"
)

const sessionKey = "session"

// RequireSession rejects requests while no user is signed in and exposes the
// session snapshot to later handlers
func RequireSession(authService service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := authService.Session(c.Request.Context())
		if !sess.IsAuthenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
				Success:   false,
				Message:   "no active session",
				ErrorCode: dto.ErrCodeUnauthorized,
			})
			return
		}

		c.Set(sessionKey, sess)
		c.Next()
	}
}

// writeResult renders a manager result, deriving the HTTP status from its error code
func writeResult[T any](c *gin.Context, okStatus int, res dto.Result[T]) {
	if res.Success {
		c.JSON(okStatus, res)
		return
	}
	c.JSON(statusFor(res.ErrorCode), res)
}

func statusFor(code int) int {
	if code >= 400 && code <= 599 {
		return code
	}
	return http.StatusBadGateway
}
