package domain

import "errors"

// Common client errors
var (
	// ErrNetwork is returned when the backend cannot be reached
	ErrNetwork = errors.New("network unavailable")

	// ErrUnauthorized is returned when credentials or tokens are rejected
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrNotAuthenticated is returned when an operation needs a token and none is stored
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoCachedUser is returned when an update is attempted without a cached user
	ErrNoCachedUser = errors.New("no cached user")

	// ErrIncompleteUser is returned when a merged user record misses required fields
	ErrIncompleteUser = errors.New("incomplete user record")

	// ErrSessionChanged is returned when an async result outlived the session that requested it
	ErrSessionChanged = errors.New("session changed")

	// ErrNotConnected is returned when emitting on a closed realtime channel
	ErrNotConnected = errors.New("realtime channel not connected")
)
