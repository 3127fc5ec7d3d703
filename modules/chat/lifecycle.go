package chat

import (
	"context"

	domain "github.com/example/presence-chat/domain/chat"
)

func (e *Engine) connect(connID string, userID int64, userName string) (domain.Presence, error) {
	p, err := e.registry.Register(connID, userID, userName)
	if err != nil {
		e.logger.Warn("Duplicate connection registration", "connection", connID, "error", err)
		return p, err
	}

	e.send(connID, EventConnected, ConnectedPayload{ConnectionID: connID, User: p})
	e.broadcast(connID, EventUserConnected, p)
	e.broadcast("", EventStatusChanged, e.registry.Snapshot())

	for _, room := range e.directory.RoomsOf(userID) {
		e.subs.Subscribe(connID, room.Name)
		e.publish(room.Name, "", EventRoomJoined, RoomJoinedPayload{Room: room, JoinedUserID: userID})
	}

	e.logger.Info("User connected", "connection", connID, "userId", userID)
	return p, nil
}

func (e *Engine) disconnect(connID string) {
	p, ok := e.registry.Unregister(connID)
	if !ok {
		return
	}

	rooms := e.directory.RoomsOf(p.UserID)
	for _, room := range rooms {
		e.subs.Unsubscribe(connID, room.Name)
	}

	// Other devices of the same user keep the memberships alive.
	if !e.registry.Online(p.UserID) {
		for _, room := range rooms {
			e.leave(connID, p.UserID, room.Name, false)
		}
	}
	e.collectGarbage()

	e.broadcast(connID, EventDisconnect, p)
	e.broadcast(connID, EventStatusChanged, e.registry.Snapshot())

	e.logger.Info("User disconnected", "connection", connID, "userId", p.UserID)
}

func (e *Engine) createRoom(connID string, p domain.Presence, req domain.Room) {
	name := req.Name
	if name == "" {
		name = NewRoomName(p.UserID, e.now())
	}
	if err := ValidateRoomName(name); err != nil {
		e.sendError(connID, err.Error())
		return
	}

	for _, id := range req.UserIDs {
		if id <= 0 {
			e.sendError(connID, ErrUserIDInvalid.Error())
			return
		}
	}

	members := make([]int64, 0, len(req.UserIDs)+1)
	members = append(members, req.UserIDs...)
	if !containsID(members, p.UserID) {
		members = append(members, p.UserID)
	}
	if !e.withinLimit(countUnique(members)) {
		e.sendError(connID, ErrRestricted.Error())
		return
	}

	room, err := e.directory.Create(name, p.UserID, members)
	if err != nil {
		e.logger.Warn("Room creation ignored", "room", name, "error", err)
		return
	}
	for _, userID := range room.UserIDs {
		e.attach(room.Name, userID)
	}

	e.broadcast(connID, EventRoomCreated, room)
	e.saveRoom(room.Name)
	e.logger.Info("Room created", "room", room.Name, "starter", room.Starter, "members", len(room.UserIDs))
}

func (e *Engine) joinRoom(p domain.Presence, roomName string) {
	added, err := e.directory.AddMember(roomName, p.UserID)
	if err != nil {
		e.logger.Debug("Join ignored", "room", roomName, "userId", p.UserID, "error", err)
		return
	}
	e.attach(roomName, p.UserID)
	if added {
		e.saveRoom(roomName)
	}
}

func (e *Engine) leaveRoom(connID string, p domain.Presence, req RoomLeaveRequest) {
	if _, ok := e.directory.Find(req.RoomName); !ok {
		e.logger.Debug("Leave ignored", "room", req.RoomName, "error", ErrRoomNotFound)
		return
	}
	e.leave(connID, p.UserID, req.RoomName, req.Silent)
	e.collectGarbage()
}

// leave removes userID from the room and detaches its connections.
// It does not run garbage collection.
func (e *Engine) leave(originConnID string, userID int64, roomName string, silent bool) {
	room, ok := e.directory.Find(roomName)
	if !ok {
		return
	}
	if !room.HasMember(userID) {
		e.detach(roomName, userID)
		return
	}
	if !silent {
		e.broadcast(originConnID, EventRoomLeaved, RoomLeavedPayload{UserID: userID, RoomData: &room})
	}
	removed, err := e.directory.RemoveMember(roomName, userID)
	if err != nil {
		return
	}
	e.detach(roomName, userID)
	if removed {
		e.saveRoom(roomName)
	}
}

func (e *Engine) forceJoin(connID string, p domain.Presence, req RoomForceRequest) {
	if req.UserID <= 0 {
		e.sendError(connID, ErrUserIDInvalid.Error())
		return
	}
	room, ok := e.directory.Find(req.RoomName)
	if !ok {
		e.logger.Debug("Force join ignored", "room", req.RoomName, "error", ErrRoomNotFound)
		return
	}
	if !room.HasMember(req.UserID) && !e.withinLimit(len(room.UserIDs)+1) {
		e.sendError(connID, ErrRestricted.Error())
		return
	}

	added, err := e.directory.AddMember(req.RoomName, req.UserID)
	if err != nil {
		return
	}
	e.attach(req.RoomName, req.UserID)
	if added {
		e.saveRoom(req.RoomName)
	}

	room, _ = e.directory.Find(req.RoomName)
	e.broadcast(connID, EventRoomForceJoined, RoomForcedPayload{
		TriggerID: p.UserID,
		UserID:    req.UserID,
		RoomData:  &room,
	})
	e.logger.Info("User force joined", "room", req.RoomName, "userId", req.UserID, "triggerId", p.UserID)
}

func (e *Engine) forceLeave(connID string, p domain.Presence, req RoomForceRequest) {
	if _, ok := e.directory.Find(req.RoomName); !ok {
		e.logger.Debug("Force leave ignored", "room", req.RoomName, "error", ErrRoomNotFound)
		return
	}

	removed, err := e.directory.RemoveMember(req.RoomName, req.UserID)
	if err != nil {
		return
	}
	e.detach(req.RoomName, req.UserID)
	if removed {
		e.saveRoom(req.RoomName)
	}
	room, _ := e.directory.Find(req.RoomName)
	e.collectGarbage()

	e.broadcast(connID, EventRoomForceLeaved, RoomForcedPayload{
		TriggerID: p.UserID,
		UserID:    req.UserID,
		RoomData:  &room,
	})
	e.logger.Info("User force left", "room", req.RoomName, "userId", req.UserID, "triggerId", p.UserID)
}

// collectGarbage removes every room with no online member. Restored rooms
// inside their grace period are skipped.
func (e *Engine) collectGarbage() []string {
	online := e.registry.OnlineUsers()
	now := e.now()

	var collected []string
	for _, room := range e.directory.ListAll() {
		if until, ok := e.graceUntil[room.Name]; ok {
			if now.Before(until) {
				continue
			}
			delete(e.graceUntil, room.Name)
		}
		if hasOnlineMember(room, online) {
			continue
		}

		e.directory.Delete(room.Name)
		e.subs.DropTopic(room.Name)
		collected = append(collected, room.Name)

		name := room.Name
		e.persist(name, "delete-files", func(ctx context.Context) error {
			return e.persister.DeleteFilesForRoom(ctx, name)
		})
	}
	if len(collected) > 0 {
		e.logger.Info("Collected rooms", "rooms", collected)
	}
	return collected
}

// attach subscribes every live connection of userID to the room topic.
func (e *Engine) attach(roomName string, userID int64) {
	for _, connID := range e.registry.ConnectionsOf(userID) {
		e.subs.Subscribe(connID, roomName)
	}
}

// detach unsubscribes every live connection of userID from the room topic.
func (e *Engine) detach(roomName string, userID int64) {
	for _, connID := range e.registry.ConnectionsOf(userID) {
		e.subs.Unsubscribe(connID, roomName)
	}
}

func (e *Engine) saveRoom(roomName string) {
	room, ok := e.directory.Find(roomName)
	if !ok {
		return
	}
	e.persist(roomName, "save-room", func(ctx context.Context) error {
		return e.persister.SaveRoom(ctx, room)
	})
}

func hasOnlineMember(room domain.Room, online map[int64]struct{}) bool {
	for _, id := range room.UserIDs {
		if _, ok := online[id]; ok {
			return true
		}
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func countUnique(ids []int64) int {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
