package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// StoragePort defines the storage operations other modules consume.
type StoragePort interface {
	Messages(ctx context.Context, roomName string, limit int) ([]domain.Message, error)
	LoadRooms(ctx context.Context) ([]domain.Room, error)
	SaveRoom(ctx context.Context, room domain.Room) error
	CollectRoom(ctx context.Context, roomName string) ([]string, error)
	FileInfo(ctx context.Context, key string) (*domain.File, error)
}

// StorageAdapter implements StoragePort using the service container.
type StorageAdapter struct {
	container mono.ServiceContainer
}

// NewStorageAdapter creates a new StorageAdapter.
func NewStorageAdapter(container mono.ServiceContainer) StoragePort {
	if container == nil {
		panic("storage: ServiceContainer is nil")
	}
	return &StorageAdapter{container: container}
}

// Messages returns the history of a room.
func (a *StorageAdapter) Messages(ctx context.Context, roomName string, limit int) ([]domain.Message, error) {
	req := GetMessagesRequest{RoomName: roomName, Limit: limit}
	var resp GetMessagesResponse
	if err := a.call(ctx, ServiceGetMessages, &req, &resp); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return resp.Messages, nil
}

// LoadRooms returns every stored room.
func (a *StorageAdapter) LoadRooms(ctx context.Context) ([]domain.Room, error) {
	var resp LoadRoomsResponse
	if err := a.call(ctx, ServiceLoadRooms, &LoadRoomsRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	return resp.Rooms, nil
}

// SaveRoom stores a room snapshot.
func (a *StorageAdapter) SaveRoom(ctx context.Context, room domain.Room) error {
	var resp SaveRoomResponse
	if err := a.call(ctx, ServiceSaveRoom, &SaveRoomRequest{Room: room}, &resp); err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// CollectRoom deletes a collected room's files and snapshot.
func (a *StorageAdapter) CollectRoom(ctx context.Context, roomName string) ([]string, error) {
	var resp CollectRoomResponse
	if err := a.call(ctx, ServiceCollectRoom, &CollectRoomRequest{RoomName: roomName}, &resp); err != nil {
		return nil, fmt.Errorf("failed to collect room: %w", err)
	}
	if resp.Error != "" {
		return resp.Deleted, errors.New(resp.Error)
	}
	return resp.Deleted, nil
}

// FileInfo returns the metadata of a sent file.
func (a *StorageAdapter) FileInfo(ctx context.Context, key string) (*domain.File, error) {
	var resp GetFileInfoResponse
	if err := a.call(ctx, ServiceGetFileInfo, &GetFileInfoRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	return resp.File, nil
}

func (a *StorageAdapter) call(ctx context.Context, service string, req, resp any) error {
	err := helper.CallRequestReplyService(
		ctx,
		a.container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	)
	return mapServiceError(err)
}

// mapServiceError restores sentinel errors lost in transport.
func mapServiceError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), ErrNotFound.Error()) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
