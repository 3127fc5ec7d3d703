package storage

import domain "github.com/example/presence-chat/domain/chat"

// Service names registered under services.storage.*
const (
	ServiceGetMessages = "get-messages"
	ServiceLoadRooms   = "load-rooms"
	ServiceSaveRoom    = "save-room"
	ServiceCollectRoom = "collect-room"
	ServiceGetFileInfo = "get-file-info"
)

// GetMessagesRequest asks for the history of a room.
type GetMessagesRequest struct {
	RoomName string `json:"room_name"`
	Limit    int    `json:"limit"`
}

// GetMessagesResponse carries the history of a room.
type GetMessagesResponse struct {
	RoomName string           `json:"room_name"`
	Messages []domain.Message `json:"messages"`
	Cached   bool             `json:"cached"`
}

// LoadRoomsRequest asks for every stored room.
type LoadRoomsRequest struct{}

// LoadRoomsResponse carries every stored room.
type LoadRoomsResponse struct {
	Rooms []domain.Room `json:"rooms"`
}

// SaveRoomRequest stores a room snapshot.
type SaveRoomRequest struct {
	Room domain.Room `json:"room"`
}

// SaveRoomResponse acknowledges a stored room snapshot.
type SaveRoomResponse struct {
	Saved bool `json:"saved"`
}

// CollectRoomRequest removes a collected room's files and snapshot.
type CollectRoomRequest struct {
	RoomName string `json:"room_name"`
}

// CollectRoomResponse lists the deleted file keys.
type CollectRoomResponse struct {
	Deleted []string `json:"deleted"`
	Error   string   `json:"error,omitempty"`
}

// GetFileInfoRequest asks for the metadata of a sent file.
type GetFileInfoRequest struct {
	Key string `json:"key"`
}

// GetFileInfoResponse carries the metadata of a sent file.
type GetFileInfoResponse struct {
	File *domain.File `json:"file,omitempty"`
}
