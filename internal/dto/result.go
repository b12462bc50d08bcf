package dto

import (
	"errors"
	"fmt"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"go.uber.org/zap"
)

// Error codes reported in Result.ErrorCode
const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeNotFound       = 404
	ErrCodeSessionChanged = 409
	ErrCodeIncompleteUser = 422
	ErrCodeInternal       = 500
	ErrCodeNetwork        = 503
)

// Result is the uniform shape returned by every manager operation
type Result[T any] struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorCode int    `json:"errorCode,omitempty"`
	Data      T      `json:"data,omitempty"`
}

// Ok builds a successful result
func Ok[T any](data T, message string) Result[T] {
	return Result[T]{Success: true, Message: message, Data: data}
}

// Fail builds a failed result with an explicit code
func Fail[T any](code int, message string) Result[T] {
	return Result[T]{Success: false, Message: message, ErrorCode: code}
}

// FailFromError builds a failed result, deriving the code from err
func FailFromError[T any](err error) Result[T] {
	return Fail[T](CodeFor(err), err.Error())
}

// CodeFor maps client errors onto result error codes
func CodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotAuthenticated):
		return ErrCodeUnauthorized
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoCachedUser):
		return ErrCodeNotFound
	case errors.Is(err, domain.ErrSessionChanged):
		return ErrCodeSessionChanged
	case errors.Is(err, domain.ErrIncompleteUser):
		return ErrCodeIncompleteUser
	case errors.Is(err, domain.ErrNetwork), errors.Is(err, domain.ErrNotConnected):
		return ErrCodeNetwork
	default:
		return ErrCodeInternal
	}
}

// Guard runs fn and converts a panic into a 500 result so nothing escapes a manager boundary
func Guard[T any](logger *zap.Logger, op string, fn func() Result[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic", zap.String("op", op), zap.String("panic", fmt.Sprint(r)))
			res = Fail[T](ErrCodeInternal, "internal error")
		}
	}()
	return fn()
}
