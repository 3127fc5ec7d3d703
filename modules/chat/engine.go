package chat

import (
	"context"
	"fmt"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
)

// Subscriptions is the fan-out capability the engine publishes through.
// Implementations must not block.
type Subscriptions interface {
	Subscribe(connID, topic string) bool
	Unsubscribe(connID, topic string)
	DropTopic(topic string)
	Publish(topic, excludeConnID string, frame []byte) int
	PublishAll(excludeConnID string, frame []byte) int
	Send(connID string, frame []byte) bool
}

// Persister is the storage collaborator for messages, files and rooms.
type Persister interface {
	SaveMessage(ctx context.Context, msg domain.Message) error
	SaveFile(ctx context.Context, file domain.File) error
	SaveRoom(ctx context.Context, room domain.Room) error
	DeleteFilesForRoom(ctx context.Context, roomName string) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	// MaxRoomUsers limits room size on create and force-join. Zero means unlimited.
	MaxRoomUsers int
	// RestoreGrace exempts restored rooms from garbage collection for this long.
	RestoreGrace time.Duration
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRoomUsers: 0,
		RestoreGrace: 2 * time.Minute,
	}
}

// Stats is a point-in-time summary of engine state.
type Stats struct {
	Connections int `json:"connections"`
	OnlineUsers int `json:"online_users"`
	Rooms       int `json:"rooms"`
}

type command struct {
	fn   func()
	done chan struct{}
}

// Engine owns the presence registry and room directory. All state changes
// run on the goroutine started by Run, one command at a time.
type Engine struct {
	config     EngineConfig
	registry   *Registry
	directory  *Directory
	subs       Subscriptions
	persister  Persister
	dispatcher *Dispatcher
	logger     types.Logger
	now        func() time.Time

	graceUntil map[string]time.Time
	graceTimer *time.Timer

	cmds chan command
	done chan struct{}
}

// NewEngine creates an engine. Run must be started before use.
func NewEngine(cfg EngineConfig, subs Subscriptions, persister Persister, dispatcher *Dispatcher, logger types.Logger) *Engine {
	return &Engine{
		config:     cfg,
		registry:   NewRegistry(),
		directory:  NewDirectory(),
		subs:       subs,
		persister:  persister,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		graceUntil: make(map[string]time.Time),
		cmds:       make(chan command),
		done:       make(chan struct{}),
	}
}

// Run processes commands until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if e.graceTimer != nil {
				e.graceTimer.Stop()
			}
			close(e.done)
			return
		case cmd := <-e.cmds:
			cmd.fn()
			close(cmd.done)
		}
	}
}

// Wait blocks until Run has returned.
func (e *Engine) Wait() {
	<-e.done
}

// do runs fn on the engine goroutine and waits for it to complete.
func (e *Engine) do(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a connection and re-attaches its user to known rooms.
func (e *Engine) Connect(ctx context.Context, connID string, userID int64, userName string) (domain.Presence, error) {
	if err := ValidateUser(userID, userName); err != nil {
		return domain.Presence{}, err
	}
	var (
		p      domain.Presence
		regErr error
	)
	if err := e.do(ctx, func() {
		p, regErr = e.connect(connID, userID, userName)
	}); err != nil {
		return domain.Presence{}, err
	}
	return p, regErr
}

// Disconnect removes a connection and leaves the user's rooms when it was
// the user's last connection.
func (e *Engine) Disconnect(ctx context.Context, connID string) error {
	return e.do(ctx, func() {
		e.disconnect(connID)
	})
}

// Handle processes one inbound frame from a connection.
func (e *Engine) Handle(ctx context.Context, connID string, env Envelope) error {
	return e.do(ctx, func() {
		e.dispatch(connID, env)
	})
}

// Restore loads rooms recovered from storage. Restored rooms survive garbage
// collection until the configured grace period has elapsed.
func (e *Engine) Restore(ctx context.Context, rooms []domain.Room) (int, error) {
	restored := 0
	err := e.do(ctx, func() {
		until := e.now().Add(e.config.RestoreGrace)
		for _, room := range rooms {
			if _, err := e.directory.Create(room.Name, room.Starter, room.UserIDs); err != nil {
				e.logger.Warn("Skipping restored room", "room", room.Name, "error", err)
				continue
			}
			e.graceUntil[room.Name] = until
			restored++
		}
		if restored > 0 {
			if e.graceTimer != nil {
				e.graceTimer.Stop()
			}
			e.graceTimer = time.AfterFunc(e.config.RestoreGrace, func() {
				gcCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := e.CollectGarbage(gcCtx); err != nil {
					e.logger.Debug("Skipped post-restore garbage collection", "error", err)
				}
			})
		}
	})
	return restored, err
}

// CollectGarbage removes rooms without online members and returns their names.
func (e *Engine) CollectGarbage(ctx context.Context) ([]string, error) {
	var collected []string
	err := e.do(ctx, func() {
		collected = e.collectGarbage()
	})
	return collected, err
}

// Rooms returns every room in creation order.
func (e *Engine) Rooms(ctx context.Context) ([]domain.Room, error) {
	var rooms []domain.Room
	err := e.do(ctx, func() {
		rooms = e.directory.ListAll()
	})
	return rooms, err
}

// Room returns a room by name.
func (e *Engine) Room(ctx context.Context, name string) (domain.Room, error) {
	var (
		room  domain.Room
		found bool
	)
	if err := e.do(ctx, func() {
		room, found = e.directory.Find(name)
	}); err != nil {
		return domain.Room{}, err
	}
	if !found {
		return domain.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	return room, nil
}

// IsMember reports whether userID belongs to the named room.
func (e *Engine) IsMember(ctx context.Context, roomName string, userID int64) (bool, error) {
	room, err := e.Room(ctx, roomName)
	if err != nil {
		return false, err
	}
	return room.HasMember(userID), nil
}

// Presences returns the presence table keyed by connection id.
func (e *Engine) Presences(ctx context.Context) (map[string]domain.Presence, error) {
	var table map[string]domain.Presence
	err := e.do(ctx, func() {
		table = e.registry.Snapshot()
	})
	return table, err
}

// Stats returns counters for health reporting.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.do(ctx, func() {
		s = Stats{
			Connections: e.registry.Len(),
			OnlineUsers: len(e.registry.OnlineUsers()),
			Rooms:       e.directory.Len(),
		}
	})
	return s, err
}

// Restriction operations.
const (
	RestrictionCreate = "create"
	RestrictionAdd    = "add"
)

// CheckRestriction reports whether creating a room with userIDs, or adding
// userIDs to roomName, stays within the member limit.
func (e *Engine) CheckRestriction(ctx context.Context, operation string, triggerID int64, userIDs []int64, roomName string) (bool, error) {
	var (
		permitted bool
		opErr     error
	)
	if err := e.do(ctx, func() {
		set := make(map[int64]struct{}, len(userIDs)+1)
		for _, id := range userIDs {
			set[id] = struct{}{}
		}
		switch operation {
		case RestrictionCreate:
			set[triggerID] = struct{}{}
		case RestrictionAdd:
			room, ok := e.directory.Find(roomName)
			if !ok {
				opErr = fmt.Errorf("%w: %s", ErrRoomNotFound, roomName)
				return
			}
			for _, id := range room.UserIDs {
				set[id] = struct{}{}
			}
		default:
			opErr = fmt.Errorf("unknown restriction operation: %q", operation)
			return
		}
		permitted = e.withinLimit(len(set))
	}); err != nil {
		return false, err
	}
	return permitted, opErr
}

func (e *Engine) withinLimit(members int) bool {
	return e.config.MaxRoomUsers <= 0 || members <= e.config.MaxRoomUsers
}

// persist queues a storage call without waiting for it. Calls for the same
// room run in order.
func (e *Engine) persist(roomName, name string, fn func(ctx context.Context) error) {
	if e.persister == nil || e.dispatcher == nil {
		return
	}
	e.dispatcher.Submit(Task{Key: roomName, Name: name, Run: fn})
}

// send encodes and delivers a frame to a single connection.
func (e *Engine) send(connID, eventType string, payload any) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		e.logger.Error("Failed to encode frame", "event", eventType, "error", err)
		return
	}
	e.subs.Send(connID, frame)
}

// sendError delivers an error envelope to a single connection.
func (e *Engine) sendError(connID, message string) {
	e.subs.Send(connID, EncodeError(message))
}

// broadcast encodes a frame and publishes it to every connection but exclude.
func (e *Engine) broadcast(excludeConnID, eventType string, payload any) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		e.logger.Error("Failed to encode frame", "event", eventType, "error", err)
		return
	}
	e.subs.PublishAll(excludeConnID, frame)
}

// publish encodes a frame and publishes it to a room topic.
func (e *Engine) publish(topic, excludeConnID, eventType string, payload any) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		e.logger.Error("Failed to encode frame", "event", eventType, "error", err)
		return
	}
	e.subs.Publish(topic, excludeConnID, frame)
}
