package chat

import (
	"errors"
	"unicode/utf8"

	domain "github.com/example/presence-chat/domain/chat"
)

// Validation constants
const (
	MaxUserNameLength = 50
	MaxRoomNameLength = 100
	MaxMessageLength  = 5000
)

// Validation errors
var (
	ErrUserNameTooLong = errors.New("user name exceeds maximum length")
	ErrUserNameInvalid = errors.New("user name contains invalid characters")
	ErrUserIDInvalid   = errors.New("user id must be positive")
	ErrRoomNameEmpty   = errors.New("room name cannot be empty")
	ErrRoomNameTooLong = errors.New("room name exceeds maximum length")
	ErrRoomNameInvalid = errors.New("room name contains invalid characters")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrMessageInvalid  = errors.New("message contains invalid characters")
)

// Wire protocol re-exported from the domain package so engine code and its
// callers can keep using the chat.* names.
const (
	EventRoomCreated     = domain.EventRoomCreated
	EventRoomJoin        = domain.EventRoomJoin
	EventRoomLeave       = domain.EventRoomLeave
	EventRoomForceJoin   = domain.EventRoomForceJoin
	EventRoomForceLeave  = domain.EventRoomForceLeave
	EventStatusChanged   = domain.EventStatusChanged
	EventSendMessage     = domain.EventSendMessage
	EventSendFile        = domain.EventSendFile
	EventTypeMessage     = domain.EventTypeMessage
	EventConnected       = domain.EventConnected
	EventUserConnected   = domain.EventUserConnected
	EventDisconnect      = domain.EventDisconnect
	EventRoomJoined      = domain.EventRoomJoined
	EventRoomLeaved      = domain.EventRoomLeaved
	EventRoomForceJoined = domain.EventRoomForceJoined
	EventRoomForceLeaved = domain.EventRoomForceLeaved
	EventFileReceive     = domain.EventFileReceive
	EventError           = domain.EventError
)

type (
	Envelope           = domain.Envelope
	RoomJoinRequest    = domain.RoomJoinRequest
	RoomLeaveRequest   = domain.RoomLeaveRequest
	RoomForceRequest   = domain.RoomForceRequest
	MessagePayload     = domain.MessagePayload
	FilePayload        = domain.FilePayload
	ConnectedPayload   = domain.ConnectedPayload
	RoomJoinedPayload  = domain.RoomJoinedPayload
	RoomLeavedPayload  = domain.RoomLeavedPayload
	RoomForcedPayload  = domain.RoomForcedPayload
	FileReceivePayload = domain.FileReceivePayload
)

var (
	Encode      = domain.Encode
	EncodeError = domain.EncodeError
	NewRoomName = domain.NewRoomName
)

// ValidateUser validates the identity supplied for a connection.
func ValidateUser(userID int64, userName string) error {
	if userID <= 0 {
		return ErrUserIDInvalid
	}
	if len(userName) > MaxUserNameLength {
		return ErrUserNameTooLong
	}
	if !utf8.ValidString(userName) {
		return ErrUserNameInvalid
	}
	return nil
}

// ValidateRoomName validates a room name.
func ValidateRoomName(name string) error {
	if name == "" {
		return ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	if !utf8.ValidString(name) {
		return ErrRoomNameInvalid
	}
	return nil
}

// ValidateMessage validates message content. Empty messages are allowed
// because typing notifications may carry no text.
func ValidateMessage(content string) error {
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageInvalid
	}
	return nil
}
