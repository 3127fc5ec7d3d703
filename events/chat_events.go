package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageSentEvent is emitted after a chat message has been relayed to its room.
type MessageSentEvent struct {
	UserID   int64     `json:"user_id"`
	RoomName string    `json:"room_name"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// FileSentEvent is emitted after a file notice has been relayed to its room.
type FileSentEvent struct {
	UserID   int64          `json:"user_id"`
	RoomName string         `json:"room_name"`
	Store    string         `json:"store"`
	MainType string         `json:"main_type"`
	FileName string         `json:"file_name"`
	FileData map[string]any `json:"file_data,omitempty"`
	Time     time.Time      `json:"time"`
}

// FileProgressEvent reports upload progress of a file into a room.
type FileProgressEvent struct {
	UserID       int64  `json:"user_id"`
	RoomName     string `json:"room_name"`
	UploadedSize int64  `json:"uploaded_size"`
	FileSize     int64  `json:"file_size"`
	FirstSend    bool   `json:"first_send"`
}

// Event definitions for the chat domain.
var (
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"chat",
		"MessageSent",
		"v1",
	)

	FileSentV1 = helper.EventDefinition[FileSentEvent](
		"chat",
		"FileSent",
		"v1",
	)

	FileProgressV1 = helper.EventDefinition[FileProgressEvent](
		"api",
		"FileProgress",
		"v1",
	)
)
