package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
	"golang.org/x/sync/singleflight"
)

// DefaultHistoryLimit is used when a history request carries no limit.
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps history requests.
const MaxHistoryLimit = 1000

// Service implements the persistence operations of the chat.
type Service struct {
	repo   *Repository
	blobs  *BlobStore
	cache  *HistoryCache // optional
	group  singleflight.Group
	logger types.Logger
}

// NewService creates a storage service. cache and blobs may be nil.
func NewService(repo *Repository, blobs *BlobStore, cache *HistoryCache, logger types.Logger) *Service {
	return &Service{
		repo:   repo,
		blobs:  blobs,
		cache:  cache,
		logger: logger,
	}
}

// SaveMessage stores a message and invalidates the room's cached history.
func (s *Service) SaveMessage(ctx context.Context, msg domain.Message) error {
	record := &MessageRecord{
		UserID:   msg.UserID,
		RoomName: msg.RoomName,
		Message:  msg.Message,
		SentAt:   msg.Time,
	}
	if err := s.repo.SaveMessage(ctx, record); err != nil {
		return err
	}
	s.invalidate(ctx, msg.RoomName)
	return nil
}

// SaveFile stores the metadata of a file sent to a room.
func (s *Service) SaveFile(ctx context.Context, file domain.File) error {
	record := &FileRecord{
		UserID:   file.UserID,
		RoomName: file.RoomName,
		StoreKey: file.Store,
		MainType: file.MainType,
		FileName: file.FileName,
		SentAt:   file.Time,
	}
	if len(file.FileData) > 0 {
		data, err := json.Marshal(file.FileData)
		if err != nil {
			return fmt.Errorf("failed to encode file data: %w", err)
		}
		record.FileData = string(data)
	}
	return s.repo.SaveFile(ctx, record)
}

// Messages returns the latest messages of a room, oldest first. The second
// result reports whether the answer came from the cache.
func (s *Service) Messages(ctx context.Context, roomName string, limit int) ([]domain.Message, bool, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	key := historyKey(roomName, limit)

	if s.cache != nil {
		var cached []domain.Message
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("History cache read failed", "room", roomName, "error", err)
		}
		if found {
			return cached, true, nil
		}
	}

	val, err, _ := s.group.Do(key, func() (any, error) {
		records, err := s.repo.MessagesByRoom(ctx, roomName, limit)
		if err != nil {
			return nil, err
		}
		messages := make([]domain.Message, 0, len(records))
		for i := range records {
			messages = append(messages, records[i].toDomain())
		}
		return messages, nil
	})
	if err != nil {
		return nil, false, err
	}
	messages := val.([]domain.Message)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, messages); err != nil {
			s.logger.Warn("History cache write failed", "room", roomName, "error", err)
		}
	}
	return messages, false, nil
}

// SaveRoom stores the current state of a room.
func (s *Service) SaveRoom(ctx context.Context, room domain.Room) error {
	record, err := newRoomRecord(room)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}
	return s.repo.UpsertRoom(ctx, record)
}

// Rooms returns every stored room.
func (s *Service) Rooms(ctx context.Context) ([]domain.Room, error) {
	records, err := s.repo.Rooms(ctx)
	if err != nil {
		return nil, err
	}
	rooms := make([]domain.Room, 0, len(records))
	for i := range records {
		room, err := records[i].toDomain()
		if err != nil {
			s.logger.Warn("Skipping unreadable room record", "room", records[i].Name, "error", err)
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// CollectRoom deletes the stored files of a collected room and forgets its
// snapshot. It returns the deleted file keys.
func (s *Service) CollectRoom(ctx context.Context, roomName string) ([]string, error) {
	var errs []error

	var deleted []string
	if s.blobs != nil {
		keys, err := s.blobs.DeleteRoom(roomName)
		if err != nil {
			errs = append(errs, err)
		}
		deleted = keys
	}
	if _, err := s.repo.MarkFilesDeleted(ctx, roomName); err != nil {
		errs = append(errs, err)
	}
	if err := s.repo.DeleteRoom(ctx, roomName); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, err)
	}
	s.invalidate(ctx, roomName)

	return deleted, errors.Join(errs...)
}

// Upload streams a file into a room's namespace.
func (s *Service) Upload(ctx context.Context, roomName, filename, contentType string, reader io.Reader) (*StoredObject, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("blob store not configured")
	}
	return s.blobs.Put(ctx, roomName, filename, contentType, reader)
}

// Open returns a reader and metadata for a stored file.
func (s *Service) Open(_ context.Context, key string) (io.ReadCloser, *StoredObject, error) {
	if s.blobs == nil {
		return nil, nil, fmt.Errorf("blob store not configured")
	}
	if _, err := RoomOfKey(key); err != nil {
		return nil, nil, err
	}
	info, err := s.blobs.Stat(key)
	if err != nil {
		return nil, nil, err
	}
	reader, err := s.blobs.Open(key)
	if err != nil {
		return nil, nil, err
	}
	return reader, info, nil
}

// FileInfo returns the metadata of a sent file.
func (s *Service) FileInfo(ctx context.Context, key string) (*domain.File, error) {
	record, err := s.repo.FileByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	file := record.toDomain()
	return &file, nil
}

func (s *Service) invalidate(ctx context.Context, roomName string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRoom(ctx, roomName); err != nil {
		s.logger.Warn("History cache invalidation failed", "room", roomName, "error", err)
	}
}
