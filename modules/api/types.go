package api

import (
	domain "github.com/example/presence-chat/domain/chat"
)

// RoomResponse is the API response for a room.
type RoomResponse struct {
	Name    string  `json:"name"`
	Starter int64   `json:"starter"`
	UserIDs []int64 `json:"userIds"`
	Online  int     `json:"online"`
}

// RoomListResponse is the API response for listing rooms.
type RoomListResponse struct {
	Rooms []RoomResponse `json:"rooms"`
}

// HistoryResponse is the API response for message history.
type HistoryResponse struct {
	RoomName string           `json:"roomName"`
	Messages []domain.Message `json:"messages"`
}

// PresenceResponse is the API response for the presence table.
type PresenceResponse struct {
	Presences   map[string]domain.Presence `json:"presences"`
	Connections int                        `json:"connections"`
	OnlineUsers int                        `json:"onlineUsers"`
	Rooms       int                        `json:"rooms"`
}

// RestrictionRequest asks whether a room operation respects the member limit.
type RestrictionRequest struct {
	Operation     string  `json:"operation"`
	TriggerUserID int64   `json:"triggerUserId"`
	UserIDs       []int64 `json:"userIds"`
	Room          string  `json:"room"`
}

// RestrictionResponse answers a RestrictionRequest.
type RestrictionResponse struct {
	Permission bool `json:"permission"`
}

// UploadResponse is returned after a file has been stored.
type UploadResponse struct {
	Success bool   `json:"success"`
	Store   string `json:"store"`
	Size    int64  `json:"size"`
	Type    string `json:"type"`
	File    string `json:"file"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
