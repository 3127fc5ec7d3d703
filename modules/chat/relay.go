package chat

import (
	"context"
	"encoding/json"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
)

// dispatch routes one inbound frame. It runs on the engine goroutine.
func (e *Engine) dispatch(connID string, env Envelope) {
	p, ok := e.registry.Get(connID)
	if !ok {
		e.logger.Warn("Frame from unknown connection", "connection", connID, "type", env.Type, "error", ErrNotRegistered)
		return
	}

	switch env.Type {
	case EventRoomCreated:
		var req domain.Room
		if e.decode(connID, env, &req) {
			e.createRoom(connID, p, req)
		}
	case EventRoomJoin:
		var req RoomJoinRequest
		if e.decode(connID, env, &req) {
			e.checkSelf(connID, p, req.UserID, env.Type)
			e.joinRoom(p, req.RoomName)
		}
	case EventRoomLeave:
		var req RoomLeaveRequest
		if e.decode(connID, env, &req) {
			e.checkSelf(connID, p, req.UserID, env.Type)
			e.leaveRoom(connID, p, req)
		}
	case EventRoomForceJoin:
		var req RoomForceRequest
		if e.decode(connID, env, &req) {
			e.forceJoin(connID, p, req)
		}
	case EventRoomForceLeave:
		var req RoomForceRequest
		if e.decode(connID, env, &req) {
			e.forceLeave(connID, p, req)
		}
	case EventStatusChanged:
		var table map[string]domain.Presence
		if e.decode(connID, env, &table) {
			e.changeStatus(connID, table)
		}
	case EventSendMessage, EventTypeMessage:
		var msg MessagePayload
		if e.decode(connID, env, &msg) {
			e.relayMessage(connID, p, env.Type, msg)
		}
	case EventSendFile:
		var file FilePayload
		if e.decode(connID, env, &file) {
			e.relayFile(connID, p, file)
		}
	default:
		e.sendError(connID, "Unknown message type: "+env.Type)
	}
}

func (e *Engine) decode(connID string, env Envelope, dest any) bool {
	if len(env.Payload) == 0 {
		e.sendError(connID, "Missing payload for "+env.Type)
		return false
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		e.sendError(connID, "Invalid "+env.Type+" payload")
		return false
	}
	return true
}

// checkSelf logs when a client claims to act as someone else. The
// connection's own identity is used regardless.
func (e *Engine) checkSelf(connID string, p domain.Presence, claimed int64, eventType string) {
	if claimed != 0 && claimed != p.UserID {
		e.logger.Warn("Payload user does not match connection",
			"connection", connID,
			"event", eventType,
			"claimed", claimed,
			"userId", p.UserID)
	}
}

// changeStatus applies a client-pushed presence table. Only status and idle
// flags of live connections are taken; identities stay server-owned and
// unknown connections are dropped.
func (e *Engine) changeStatus(connID string, table map[string]domain.Presence) {
	current := e.registry.Snapshot()
	merged := make(map[string]domain.Presence, len(current))
	for id, cur := range current {
		next := cur
		if upd, ok := table[id]; ok {
			if upd.Status.Valid() {
				next.Status = upd.Status
			}
			next.IsIdle = upd.IsIdle
		}
		merged[id] = next
	}
	e.registry.SetAll(merged)
	e.broadcast(connID, EventStatusChanged, merged)
}

// relayMessage fans out sendMessage and typeMessage to the room, then queues
// persistence for sendMessage.
func (e *Engine) relayMessage(connID string, p domain.Presence, eventType string, msg MessagePayload) {
	if err := ValidateMessage(msg.Message); err != nil {
		e.sendError(connID, err.Error())
		return
	}
	if !e.canPost(connID, p, msg.RoomName, eventType) {
		return
	}

	msg.UserID = p.UserID
	e.publish(msg.RoomName, connID, eventType, msg)

	if eventType != EventSendMessage {
		return
	}
	record := domain.Message{
		UserID:   p.UserID,
		RoomName: msg.RoomName,
		Message:  msg.Message,
		Time:     eventTime(msg.Time, e.now()),
	}
	e.persist(msg.RoomName, "save-message", func(ctx context.Context) error {
		return e.persister.SaveMessage(ctx, record)
	})
}

// relayFile fans out sendFile to the room, then queues persistence.
func (e *Engine) relayFile(connID string, p domain.Presence, file FilePayload) {
	if !e.canPost(connID, p, file.RoomName, EventSendFile) {
		return
	}

	file.UserID = p.UserID
	e.publish(file.RoomName, connID, EventSendFile, file)

	record := domain.File{
		UserID:   p.UserID,
		RoomName: file.RoomName,
		Store:    file.Store,
		MainType: file.Type,
		FileName: file.File,
		FileData: file.FileData,
		Time:     eventTime(file.Time, e.now()),
	}
	e.persist(file.RoomName, "save-file", func(ctx context.Context) error {
		return e.persister.SaveFile(ctx, record)
	})
}

// canPost reports whether the connection's user may post to the room.
// Unknown rooms are ignored silently since they may have been collected.
func (e *Engine) canPost(connID string, p domain.Presence, roomName, eventType string) bool {
	room, ok := e.directory.Find(roomName)
	if !ok {
		e.logger.Debug("Dropping event for unknown room", "event", eventType, "room", roomName)
		return false
	}
	if !room.HasMember(p.UserID) {
		e.logger.Warn("Dropping event from non-member", "event", eventType, "room", roomName, "userId", p.UserID)
		e.sendError(connID, "Not a member of "+roomName)
		return false
	}
	return true
}

// eventTime converts a client timestamp in milliseconds, falling back to now.
func eventTime(ms int64, now time.Time) time.Time {
	if ms <= 0 {
		return now
	}
	return time.UnixMilli(ms)
}
