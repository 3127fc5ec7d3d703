package chat

import "time"

// Status is the availability a user advertises to others.
type Status string

// Presence statuses.
const (
	StatusOn   Status = "on"
	StatusBusy Status = "busy"
	StatusOff  Status = "off"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOn, StatusBusy, StatusOff:
		return true
	}
	return false
}

// Presence is the user descriptor attached to one live connection.
type Presence struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	Status   Status `json:"status"`
	IsIdle   bool   `json:"isIdle"`
}

// Room is a named group of users sharing broadcast scope.
type Room struct {
	Name    string  `json:"name"`
	Starter int64   `json:"starter"`
	UserIDs []int64 `json:"userIds"`
}

// HasMember reports whether userID belongs to the room.
func (r Room) HasMember(userID int64) bool {
	for _, id := range r.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is a persisted chat message.
type Message struct {
	ID       uint      `json:"id"`
	UserID   int64     `json:"userId"`
	RoomName string    `json:"roomName"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// File is the metadata of a file sent to a room.
type File struct {
	ID       uint           `json:"id"`
	UserID   int64          `json:"userId"`
	RoomName string         `json:"roomName"`
	Store    string         `json:"store"`
	MainType string         `json:"type"`
	FileName string         `json:"file"`
	FileData map[string]any `json:"fileData,omitempty"`
	Deleted  bool           `json:"deleted"`
	Time     time.Time      `json:"time"`
}
