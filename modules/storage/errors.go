package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrFileNotFound is returned when a stored file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidKey is returned when a storage key is malformed.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrInvalidRoomName is returned when a room name cannot be used as a key segment.
	ErrInvalidRoomName = errors.New("room name not usable as storage key")
)
