package chat

import "errors"

// Sentinel errors for presence and room operations.
var (
	// ErrRoomNotFound is returned when an operation names a room that does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrDuplicateRoomName is returned when a room with the same name already exists.
	ErrDuplicateRoomName = errors.New("room name already in use")

	// ErrAlreadyRegistered is returned when a connection id is registered twice.
	ErrAlreadyRegistered = errors.New("connection already registered")

	// ErrNotRegistered is returned when an event arrives from an unknown connection.
	ErrNotRegistered = errors.New("connection not registered")

	// ErrEngineStopped is returned when a command is submitted after the engine stopped.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrPersistenceFailure wraps errors reported by the storage collaborator.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrRestricted is returned when a room operation would exceed the member limit.
	ErrRestricted = errors.New("room member limit exceeded")
)
