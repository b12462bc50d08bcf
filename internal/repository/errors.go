package repository

import "errors"

// Common repository errors
var (
	// ErrNotFound is returned when a key is not present in storage
	ErrNotFound = errors.New("record not found")

	// ErrCorrupted is returned when stored data cannot be decrypted or decoded
	ErrCorrupted = errors.New("stored data is corrupted")

	// ErrUnknownDriver is returned for an unsupported storage driver name
	ErrUnknownDriver = errors.New("unknown storage driver")
)
