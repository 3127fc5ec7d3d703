package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ChatPort defines the read operations the HTTP API consumes.
type ChatPort interface {
	ListRooms(ctx context.Context) ([]domain.Room, error)
	GetRoom(ctx context.Context, roomName string) (*domain.Room, error)
	IsMember(ctx context.Context, roomName string, userID int64) (bool, error)
	CheckRestriction(ctx context.Context, req CheckRestrictionRequest) (bool, error)
	Presence(ctx context.Context) (*PresenceResponse, error)
}

// ChatAdapter implements ChatPort using the service container.
type ChatAdapter struct {
	container mono.ServiceContainer
}

// NewChatAdapter creates a new ChatAdapter.
func NewChatAdapter(container mono.ServiceContainer) ChatPort {
	if container == nil {
		panic("chat: ServiceContainer is nil")
	}
	return &ChatAdapter{container: container}
}

// ListRooms returns every live room.
func (a *ChatAdapter) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var resp ListRoomsResponse
	if err := a.call(ctx, ServiceListRooms, &ListRoomsRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return resp.Rooms, nil
}

// GetRoom retrieves a room by name.
func (a *ChatAdapter) GetRoom(ctx context.Context, roomName string) (*domain.Room, error) {
	var resp GetRoomResponse
	if err := a.call(ctx, ServiceGetRoom, &GetRoomRequest{RoomName: roomName}, &resp); err != nil {
		return nil, err
	}
	return resp.Room, nil
}

// IsMember reports whether userID belongs to the room. Unknown rooms have no members.
func (a *ChatAdapter) IsMember(ctx context.Context, roomName string, userID int64) (bool, error) {
	var resp IsMemberResponse
	if err := a.call(ctx, ServiceIsMember, &IsMemberRequest{RoomName: roomName, UserID: userID}, &resp); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return resp.Member, nil
}

// CheckRestriction reports whether the operation respects the room size limit.
func (a *ChatAdapter) CheckRestriction(ctx context.Context, req CheckRestrictionRequest) (bool, error) {
	var resp CheckRestrictionResponse
	if err := a.call(ctx, ServiceCheckRestriction, &req, &resp); err != nil {
		return false, err
	}
	return resp.Permitted, nil
}

// Presence returns the presence table and engine counters.
func (a *ChatAdapter) Presence(ctx context.Context) (*PresenceResponse, error) {
	var resp PresenceResponse
	if err := a.call(ctx, ServicePresence, &PresenceRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	return &resp, nil
}

func (a *ChatAdapter) call(ctx context.Context, service string, req, resp any) error {
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
	msg := err.Error()
	switch {
	case strings.Contains(msg, ErrRoomNotFound.Error()):
		return fmt.Errorf("%w: %v", ErrRoomNotFound, err)
	case strings.Contains(msg, ErrEngineStopped.Error()):
		return fmt.Errorf("%w: %v", ErrEngineStopped, err)
	default:
		return err
	}
}
