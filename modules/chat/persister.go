package chat

import (
	"context"
	"fmt"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/events"
	"github.com/example/presence-chat/modules/storage"
	"github.com/go-monolith/mono"
)

// busPersister publishes messages and files as events and stores room
// snapshots through the storage services.
type busPersister struct {
	bus     mono.EventBus
	storage storage.StoragePort
}

func newBusPersister(bus mono.EventBus, port storage.StoragePort) *busPersister {
	return &busPersister{bus: bus, storage: port}
}

func (p *busPersister) SaveMessage(_ context.Context, msg domain.Message) error {
	if p.bus == nil {
		return fmt.Errorf("event bus not configured")
	}
	return events.MessageSentV1.Publish(p.bus, events.MessageSentEvent{
		UserID:   msg.UserID,
		RoomName: msg.RoomName,
		Message:  msg.Message,
		Time:     msg.Time,
	}, nil)
}

func (p *busPersister) SaveFile(_ context.Context, file domain.File) error {
	if p.bus == nil {
		return fmt.Errorf("event bus not configured")
	}
	return events.FileSentV1.Publish(p.bus, events.FileSentEvent{
		UserID:   file.UserID,
		RoomName: file.RoomName,
		Store:    file.Store,
		MainType: file.MainType,
		FileName: file.FileName,
		FileData: file.FileData,
		Time:     file.Time,
	}, nil)
}

func (p *busPersister) SaveRoom(ctx context.Context, room domain.Room) error {
	if p.storage == nil {
		return nil
	}
	return p.storage.SaveRoom(ctx, room)
}

func (p *busPersister) DeleteFilesForRoom(ctx context.Context, roomName string) error {
	if p.storage == nil {
		return nil
	}
	_, err := p.storage.CollectRoom(ctx, roomName)
	return err
}
