package storage

import (
	"encoding/json"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
)

// MessageRecord is the GORM model for a chat message.
type MessageRecord struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    int64     `gorm:"index;not null"`
	RoomName  string    `gorm:"index;size:100;not null"`
	Message   string    `gorm:"type:text"`
	SentAt    time.Time `gorm:"index"`
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (MessageRecord) TableName() string {
	return "messages"
}

func (r *MessageRecord) toDomain() domain.Message {
	return domain.Message{
		ID:       r.ID,
		UserID:   r.UserID,
		RoomName: r.RoomName,
		Message:  r.Message,
		Time:     r.SentAt,
	}
}

// FileRecord is the GORM model for a file sent to a room.
type FileRecord struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    int64  `gorm:"index;not null"`
	RoomName  string `gorm:"index;size:100;not null"`
	StoreKey  string `gorm:"index;size:255;not null"`
	MainType  string `gorm:"size:50"`
	FileName  string `gorm:"size:255"`
	FileData  string `gorm:"type:text"`
	Deleted   bool   `gorm:"default:false"`
	SentAt    time.Time
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (FileRecord) TableName() string {
	return "files"
}

func (r *FileRecord) toDomain() domain.File {
	f := domain.File{
		ID:       r.ID,
		UserID:   r.UserID,
		RoomName: r.RoomName,
		Store:    r.StoreKey,
		MainType: r.MainType,
		FileName: r.FileName,
		Deleted:  r.Deleted,
		Time:     r.SentAt,
	}
	if r.FileData != "" {
		_ = json.Unmarshal([]byte(r.FileData), &f.FileData)
	}
	return f
}

// RoomRecord is the GORM model for a room snapshot used to recover rooms
// after a restart.
type RoomRecord struct {
	Name      string `gorm:"primaryKey;size:100"`
	Starter   int64  `gorm:"not null"`
	UserIDs   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (RoomRecord) TableName() string {
	return "rooms"
}

func newRoomRecord(room domain.Room) (*RoomRecord, error) {
	ids := room.UserIDs
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	return &RoomRecord{Name: room.Name, Starter: room.Starter, UserIDs: string(data)}, nil
}

func (r *RoomRecord) toDomain() (domain.Room, error) {
	room := domain.Room{Name: r.Name, Starter: r.Starter, UserIDs: []int64{}}
	if r.UserIDs != "" {
		if err := json.Unmarshal([]byte(r.UserIDs), &room.UserIDs); err != nil {
			return domain.Room{}, err
		}
	}
	return room, nil
}
