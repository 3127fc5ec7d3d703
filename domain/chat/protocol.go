package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound and outbound event types.
const (
	EventRoomCreated     = "roomCreated"
	EventRoomJoin        = "roomJoin"
	EventRoomLeave       = "roomLeave"
	EventRoomForceJoin   = "roomForceJoin"
	EventRoomForceLeave  = "roomForceLeave"
	EventStatusChanged   = "statusChanged"
	EventSendMessage     = "sendMessage"
	EventSendFile        = "sendFile"
	EventTypeMessage     = "typeMessage"
	EventConnected       = "connected"
	EventUserConnected   = "userConnected"
	EventDisconnect      = "disconnect"
	EventRoomJoined      = "roomJoined"
	EventRoomLeaved      = "roomLeaved"
	EventRoomForceJoined = "roomForceJoined"
	EventRoomForceLeaved = "roomForceLeaved"
	EventFileReceive     = "fileReceive"
	EventError           = "error"
)

// Envelope is the frame exchanged over a connection.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Encode builds an envelope frame for the given event.
func Encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

// EncodeError builds an error envelope frame.
func EncodeError(message string) []byte {
	data, _ := json.Marshal(Envelope{Type: EventError, Error: message})
	return data
}

// NewRoomName builds the conventional room name for a creator and creation time.
func NewRoomName(userID int64, t time.Time) string {
	return fmt.Sprintf("room-%d-%d", userID, t.UnixMilli())
}

// RoomJoinRequest is the payload of roomJoin.
type RoomJoinRequest struct {
	UserID   int64  `json:"userId"`
	RoomName string `json:"roomName"`
}

// RoomLeaveRequest is the payload of roomLeave.
type RoomLeaveRequest struct {
	UserID   int64  `json:"userId"`
	RoomName string `json:"roomName"`
	Silent   bool   `json:"silent"`
}

// RoomForceRequest is the payload of roomForceJoin and roomForceLeave.
type RoomForceRequest struct {
	TriggerID int64  `json:"triggerId"`
	UserID    int64  `json:"userId"`
	RoomName  string `json:"roomName"`
}

// MessagePayload is relayed for sendMessage and typeMessage.
// Time is a unix timestamp in milliseconds.
type MessagePayload struct {
	UserID   int64  `json:"userId"`
	RoomName string `json:"roomName"`
	Message  string `json:"message"`
	Time     int64  `json:"time"`
}

// FilePayload is relayed for sendFile.
type FilePayload struct {
	UserID   int64          `json:"userId"`
	RoomName string         `json:"roomName"`
	Store    string         `json:"store"`
	FileData map[string]any `json:"fileData,omitempty"`
	Type     string         `json:"type"`
	File     string         `json:"file"`
	Time     int64          `json:"time"`
}

// ConnectedPayload welcomes a new connection.
type ConnectedPayload struct {
	ConnectionID string   `json:"connectionId"`
	User         Presence `json:"user"`
}

// RoomJoinedPayload announces a user re-attached to a room.
type RoomJoinedPayload struct {
	Room
	JoinedUserID int64 `json:"joinedUserId"`
}

// RoomLeavedPayload announces a user leaving a room.
type RoomLeavedPayload struct {
	UserID   int64 `json:"userId"`
	RoomData *Room `json:"roomData"`
}

// RoomForcedPayload announces a force-join or force-leave.
type RoomForcedPayload struct {
	TriggerID int64 `json:"triggerId"`
	UserID    int64 `json:"userId"`
	RoomData  *Room `json:"roomData"`
}

// FileReceivePayload reports upload progress to a room.
type FileReceivePayload struct {
	UserID       int64  `json:"userId"`
	RoomName     string `json:"roomName"`
	UploadedSize int64  `json:"uploadedSize"`
	FileSize     int64  `json:"fileSize"`
	FirstSend    bool   `json:"firstSend"`
}
