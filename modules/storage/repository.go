package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides access to message, file and room storage.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the schema.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(&MessageRecord{}, &FileRecord{}, &RoomRecord{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveMessage stores a chat message.
func (r *Repository) SaveMessage(ctx context.Context, msg *MessageRecord) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// MessagesByRoom returns the latest limit messages of a room, oldest first.
func (r *Repository) MessagesByRoom(ctx context.Context, roomName string, limit int) ([]MessageRecord, error) {
	var records []MessageRecord
	query := r.db.WithContext(ctx).
		Where("room_name = ?", roomName).
		Order("sent_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// SaveFile stores file metadata.
func (r *Repository) SaveFile(ctx context.Context, file *FileRecord) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

// FileByKey returns the most recent file record for a storage key.
func (r *Repository) FileByKey(ctx context.Context, key string) (*FileRecord, error) {
	var file FileRecord
	err := r.db.WithContext(ctx).
		Where("store_key = ?", key).
		Order("id DESC").
		First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	return &file, nil
}

// MarkFilesDeleted flags every file of a room as deleted.
func (r *Repository) MarkFilesDeleted(ctx context.Context, roomName string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&FileRecord{}).
		Where("room_name = ? AND deleted = ?", roomName, false).
		Update("deleted", true)
	if err := result.Error; err != nil {
		return 0, fmt.Errorf("failed to mark files deleted: %w", err)
	}
	return result.RowsAffected, nil
}

// UpsertRoom inserts or replaces a room snapshot.
func (r *Repository) UpsertRoom(ctx context.Context, room *RoomRecord) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"starter", "user_ids", "updated_at"}),
	}).Create(room).Error
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// DeleteRoom removes a room snapshot.
func (r *Repository) DeleteRoom(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Delete(&RoomRecord{}, "name = ?", name)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Rooms returns every stored room snapshot in creation order.
func (r *Repository) Rooms(ctx context.Context) ([]RoomRecord, error) {
	var rooms []RoomRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to find rooms: %w", err)
	}
	return rooms, nil
}
