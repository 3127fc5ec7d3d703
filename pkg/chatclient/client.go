// Package chatclient is a Go client for the chat WebSocket endpoint.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/fasthttp/websocket"
)

// ErrClosed is returned when emitting on a closed client.
var ErrClosed = errors.New("chat client closed")

// Handler receives a decoded envelope from the server.
type Handler func(env domain.Envelope)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTypingInterval sets the typing indicator tick.
func WithTypingInterval(d time.Duration) Option {
	return func(c *Client) { c.typingInterval = d }
}

// WithTypingStopped registers a callback for typing indicators that time out.
func WithTypingStopped(fn func(room string, userID int64)) Option {
	return func(c *Client) { c.onTypingStop = fn }
}

// Client is a connection to the chat server.
type Client struct {
	conn     *websocket.Conn
	userID   int64
	userName string
	logger   *slog.Logger

	typingInterval time.Duration
	onTypingStop   func(room string, userID int64)
	typing         *TypingTracker

	writeMu sync.Mutex

	mu           sync.RWMutex
	handlers     map[string][]Handler
	connectionID string
	presences    map[string]domain.Presence

	done    chan struct{}
	readErr error
}

// Dial connects to serverURL (for example ws://localhost:3000/ws) as the
// given user and starts reading events.
func Dial(ctx context.Context, serverURL string, userID int64, userName string, opts ...Option) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	q := u.Query()
	q.Set("userId", strconv.FormatInt(userID, 10))
	q.Set("userName", userName)
	u.RawQuery = q.Encode()

	c := &Client{
		userID:    userID,
		userName:  userName,
		logger:    slog.Default(),
		handlers:  make(map[string][]Handler),
		presences: make(map[string]domain.Presence),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.typing = NewTypingTracker(c.typingInterval, c.onTypingStop)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

// On registers a handler for an event type. Handlers run on the read
// goroutine in registration order.
func (c *Client) On(eventType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// Emit sends an event to the server.
func (c *Client) Emit(eventType string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(domain.Envelope{Type: eventType, Payload: raw}); err != nil {
		return fmt.Errorf("failed to send %s: %w", eventType, err)
	}
	return nil
}

// CreateRoom creates a room with the given members. An empty name gets a
// generated one, which is returned.
func (c *Client) CreateRoom(name string, userIDs []int64) (string, error) {
	if name == "" {
		name = domain.NewRoomName(c.userID, time.Now())
	}
	return name, c.Emit(domain.EventRoomCreated, domain.Room{Name: name, UserIDs: userIDs})
}

// Join joins an existing room.
func (c *Client) Join(room string) error {
	return c.Emit(domain.EventRoomJoin, domain.RoomJoinRequest{UserID: c.userID, RoomName: room})
}

// Leave leaves a room. A silent leave is not announced to the room.
func (c *Client) Leave(room string, silent bool) error {
	return c.Emit(domain.EventRoomLeave, domain.RoomLeaveRequest{UserID: c.userID, RoomName: room, Silent: silent})
}

// ForceJoin adds another user to a room.
func (c *Client) ForceJoin(room string, userID int64) error {
	return c.Emit(domain.EventRoomForceJoin, domain.RoomForceRequest{TriggerID: c.userID, UserID: userID, RoomName: room})
}

// ForceLeave removes another user from a room.
func (c *Client) ForceLeave(room string, userID int64) error {
	return c.Emit(domain.EventRoomForceLeave, domain.RoomForceRequest{TriggerID: c.userID, UserID: userID, RoomName: room})
}

// SendMessage posts a message to a room.
func (c *Client) SendMessage(room, text string) error {
	return c.Emit(domain.EventSendMessage, domain.MessagePayload{
		UserID:   c.userID,
		RoomName: room,
		Message:  text,
		Time:     time.Now().UnixMilli(),
	})
}

// Typing tells a room that this user is typing.
func (c *Client) Typing(room string) error {
	return c.Emit(domain.EventTypeMessage, domain.MessagePayload{
		UserID:   c.userID,
		RoomName: room,
		Time:     time.Now().UnixMilli(),
	})
}

// SendFile announces an uploaded file to a room. store is the key returned
// by the upload endpoint.
func (c *Client) SendFile(room, store, mainType, fileName string) error {
	return c.Emit(domain.EventSendFile, domain.FilePayload{
		UserID:   c.userID,
		RoomName: room,
		Store:    store,
		Type:     mainType,
		File:     fileName,
		Time:     time.Now().UnixMilli(),
	})
}

// SetStatus publishes this connection's status and idle flag.
func (c *Client) SetStatus(status domain.Status, idle bool) error {
	c.mu.Lock()
	table := make(map[string]domain.Presence, len(c.presences)+1)
	for id, p := range c.presences {
		table[id] = p
	}
	id := c.connectionID
	self := table[id]
	self.UserID, self.UserName = c.userID, c.userName
	self.Status, self.IsIdle = status, idle
	table[id] = self
	c.mu.Unlock()

	if id == "" {
		return fmt.Errorf("not connected yet")
	}
	return c.Emit(domain.EventStatusChanged, table)
}

// ConnectionID returns the id assigned by the server, empty until the
// connected event has arrived.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionID
}

// Presences returns the last presence table received from the server.
func (c *Client) Presences() map[string]domain.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Presence, len(c.presences))
	for id, p := range c.presences {
		out[id] = p
	}
	return out
}

// TypingTracker returns the tracker fed by incoming typing events.
func (c *Client) TypingTracker() *TypingTracker {
	return c.typing
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the read loop.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Close closes the connection and waits for the read loop to exit.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.typing.Stop()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = err
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}
		c.track(env)
		c.dispatch(env)
	}
}

// track keeps connection state and typing indicators current.
func (c *Client) track(env domain.Envelope) {
	switch env.Type {
	case domain.EventConnected:
		var p domain.ConnectedPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.mu.Lock()
			c.connectionID = p.ConnectionID
			c.presences[p.ConnectionID] = p.User
			c.mu.Unlock()
		}
	case domain.EventStatusChanged:
		var table map[string]domain.Presence
		if err := json.Unmarshal(env.Payload, &table); err == nil {
			c.mu.Lock()
			c.presences = table
			c.mu.Unlock()
		}
	case domain.EventTypeMessage:
		var msg domain.MessagePayload
		if err := json.Unmarshal(env.Payload, &msg); err == nil {
			c.typing.Seen(msg.RoomName, msg.UserID)
		}
	case domain.EventSendMessage:
		var msg domain.MessagePayload
		if err := json.Unmarshal(env.Payload, &msg); err == nil {
			c.typing.MessageArrived(msg.RoomName, msg.UserID)
		}
	case domain.EventSendFile:
		var file domain.FilePayload
		if err := json.Unmarshal(env.Payload, &file); err == nil {
			c.typing.MessageArrived(file.RoomName, file.UserID)
		}
	case domain.EventError:
		c.logger.Warn("Server error", "error", env.Error)
	}
}

func (c *Client) dispatch(env domain.Envelope) {
	c.mu.RLock()
	handlers := append([]Handler(nil), c.handlers[env.Type]...)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}
