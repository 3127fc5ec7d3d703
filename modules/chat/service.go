package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Service names registered under services.chat.*
const (
	ServiceListRooms        = "list-rooms"
	ServiceGetRoom          = "get-room"
	ServiceIsMember         = "is-member"
	ServiceCheckRestriction = "check-restriction"
	ServicePresence         = "presence"
)

// ListRoomsRequest asks for every live room.
type ListRoomsRequest struct{}

// ListRoomsResponse carries every live room in creation order.
type ListRoomsResponse struct {
	Rooms []domain.Room `json:"rooms"`
}

// GetRoomRequest asks for a single room.
type GetRoomRequest struct {
	RoomName string `json:"room_name"`
}

// GetRoomResponse carries a single room.
type GetRoomResponse struct {
	Room *domain.Room `json:"room,omitempty"`
}

// IsMemberRequest asks whether a user belongs to a room.
type IsMemberRequest struct {
	RoomName string `json:"room_name"`
	UserID   int64  `json:"user_id"`
}

// IsMemberResponse answers an IsMemberRequest.
type IsMemberResponse struct {
	Member bool `json:"member"`
}

// CheckRestrictionRequest asks whether a create or add operation respects
// the room size limit.
type CheckRestrictionRequest struct {
	Operation string  `json:"operation"`
	TriggerID int64   `json:"trigger_id"`
	UserIDs   []int64 `json:"user_ids"`
	RoomName  string  `json:"room_name,omitempty"`
}

// CheckRestrictionResponse answers a CheckRestrictionRequest.
type CheckRestrictionResponse struct {
	Permitted bool `json:"permitted"`
}

// PresenceRequest asks for the presence table.
type PresenceRequest struct{}

// PresenceResponse carries the presence table keyed by connection id.
type PresenceResponse struct {
	Presences map[string]domain.Presence `json:"presences"`
	Stats     Stats                      `json:"stats"`
}

// RegisterServices registers request-reply services under services.chat.*
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceListRooms, json.Unmarshal, json.Marshal, m.handleListRooms,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceListRooms, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetRoom, json.Unmarshal, json.Marshal, m.handleGetRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetRoom, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceIsMember, json.Unmarshal, json.Marshal, m.handleIsMember,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceIsMember, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceCheckRestriction, json.Unmarshal, json.Marshal, m.handleCheckRestriction,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceCheckRestriction, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServicePresence, json.Unmarshal, json.Marshal, m.handlePresence,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServicePresence, err)
	}
	return nil
}

func (m *Module) handleListRooms(ctx context.Context, _ ListRoomsRequest, _ *mono.Msg) (ListRoomsResponse, error) {
	engine, err := m.running()
	if err != nil {
		return ListRoomsResponse{}, err
	}
	rooms, err := engine.Rooms(ctx)
	if err != nil {
		return ListRoomsResponse{}, err
	}
	if rooms == nil {
		rooms = []domain.Room{}
	}
	return ListRoomsResponse{Rooms: rooms}, nil
}

func (m *Module) handleGetRoom(ctx context.Context, req GetRoomRequest, _ *mono.Msg) (GetRoomResponse, error) {
	engine, err := m.running()
	if err != nil {
		return GetRoomResponse{}, err
	}
	room, err := engine.Room(ctx, req.RoomName)
	if err != nil {
		return GetRoomResponse{}, err
	}
	return GetRoomResponse{Room: &room}, nil
}

func (m *Module) handleIsMember(ctx context.Context, req IsMemberRequest, _ *mono.Msg) (IsMemberResponse, error) {
	engine, err := m.running()
	if err != nil {
		return IsMemberResponse{}, err
	}
	member, err := engine.IsMember(ctx, req.RoomName, req.UserID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return IsMemberResponse{Member: false}, nil
		}
		return IsMemberResponse{}, err
	}
	return IsMemberResponse{Member: member}, nil
}

func (m *Module) handleCheckRestriction(ctx context.Context, req CheckRestrictionRequest, _ *mono.Msg) (CheckRestrictionResponse, error) {
	engine, err := m.running()
	if err != nil {
		return CheckRestrictionResponse{}, err
	}
	permitted, err := engine.CheckRestriction(ctx, req.Operation, req.TriggerID, req.UserIDs, req.RoomName)
	if err != nil {
		return CheckRestrictionResponse{}, err
	}
	return CheckRestrictionResponse{Permitted: permitted}, nil
}

func (m *Module) handlePresence(ctx context.Context, _ PresenceRequest, _ *mono.Msg) (PresenceResponse, error) {
	engine, err := m.running()
	if err != nil {
		return PresenceResponse{}, err
	}
	table, err := engine.Presences(ctx)
	if err != nil {
		return PresenceResponse{}, err
	}
	stats, err := engine.Stats(ctx)
	if err != nil {
		return PresenceResponse{}, err
	}
	return PresenceResponse{Presences: table, Stats: stats}, nil
}
