package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
)

// ErrHubStopped is returned when registering after the hub has shut down.
var ErrHubStopped = errors.New("hub stopped")

// ErrDuplicateClient is returned when a connection id is registered twice.
var ErrDuplicateClient = errors.New("client already registered")

// Conn is the subset of a WebSocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// HubConfig holds hub configuration.
type HubConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   256,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Client is a registered connection with its own outbound queue.
type Client struct {
	ID     string
	UserID int64
	conn   Conn
	send   chan []byte
	topics map[string]struct{}
}

// Hub tracks connections and their topic subscriptions and fans frames out
// to them. Publishing never blocks: a client whose queue is full is evicted.
type Hub struct {
	config  HubConfig
	logger  types.Logger
	clients map[string]*Client            // connectionID -> client
	topics  map[string]map[string]*Client // topic -> connectionID -> client
	reap    chan string
	done    chan struct{}
	stopped bool
	mu      sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub(cfg HubConfig, logger types.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultHubConfig().SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultHubConfig().WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultHubConfig().PingInterval
	}
	return &Hub{
		config:  cfg,
		logger:  logger,
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]*Client),
		reap:    make(chan string, 64),
		done:    make(chan struct{}),
	}
}

// Run closes evicted connections until ctx is cancelled, then closes all.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub shutting down", "clients", h.ClientCount())
			h.closeAllClients()
			close(h.done)
			return
		case connID := <-h.reap:
			h.closeConn(connID)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
		_ = client.conn.Close()
	}
	h.clients = make(map[string]*Client)
	h.topics = make(map[string]map[string]*Client)
	h.stopped = true
}

func (h *Hub) closeConn(connID string) {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.logger.Warn("Closing slow connection", "connection", connID, "userId", client.UserID)
	_ = client.conn.Close()
}

// Register adds a connection and starts its write pump.
func (h *Hub) Register(connID string, userID int64, conn Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil, ErrHubStopped
	}
	if _, exists := h.clients[connID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, connID)
	}
	client := &Client{
		ID:     connID,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, h.config.SendBuffer),
		topics: make(map[string]struct{}),
	}
	h.clients[connID] = client
	go h.writePump(client)

	h.logger.Debug("Client registered", "connection", connID, "userId", userID)
	return client, nil
}

// Unregister removes a connection and all of its subscriptions.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	for topic := range client.topics {
		h.removeFromTopic(topic, connID)
	}
	delete(h.clients, connID)
	close(client.send)
	h.logger.Debug("Client unregistered", "connection", connID, "userId", client.UserID)
}

// Subscribe adds a connection to a topic. It reports false for unknown connections.
func (h *Hub) Subscribe(connID, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Client)
	}
	h.topics[topic][connID] = client
	client.topics[topic] = struct{}{}
	return true
}

// Unsubscribe removes a connection from a topic.
func (h *Hub) Unsubscribe(connID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[connID]; ok {
		delete(client.topics, topic)
	}
	h.removeFromTopic(topic, connID)
}

// DropTopic removes a topic and every subscription to it.
func (h *Hub) DropTopic(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.topics[topic] {
		delete(client.topics, topic)
	}
	delete(h.topics, topic)
}

func (h *Hub) removeFromTopic(topic, connID string) {
	members, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}

// Publish queues a frame for every subscriber of topic except exclude.
// It returns the number of connections the frame was queued for.
func (h *Hub) Publish(topic, excludeConnID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for connID, client := range h.topics[topic] {
		if connID == excludeConnID {
			continue
		}
		if h.enqueue(client, frame) {
			sent++
		}
	}
	return sent
}

// PublishAll queues a frame for every connection except exclude.
func (h *Hub) PublishAll(excludeConnID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for connID, client := range h.clients {
		if connID == excludeConnID {
			continue
		}
		if h.enqueue(client, frame) {
			sent++
		}
	}
	return sent
}

// Send queues a frame for a single connection.
func (h *Hub) Send(connID string, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	return h.enqueue(client, frame)
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(client *Client, frame []byte) bool {
	select {
	case client.send <- frame:
		return true
	default:
		h.evict(client.ID)
		return false
	}
}

func (h *Hub) evict(connID string) {
	select {
	case h.reap <- connID:
	default:
	}
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				return
			}
			if err := h.write(client, websocket.TextMessage, frame); err != nil {
				h.logger.Debug("Write failed", "connection", client.ID, "error", err)
				h.evict(client.ID)
				return
			}
		case <-ticker.C:
			if err := h.write(client, websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed", "connection", client.ID, "error", err)
				h.evict(client.ID)
				return
			}
		}
	}
}

func (h *Hub) write(client *Client, messageType int, data []byte) error {
	_ = client.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	return client.conn.WriteMessage(messageType, data)
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCount returns the number of topics with at least one subscriber.
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// TopicClientCount returns the number of subscribers of a topic.
func (h *Hub) TopicClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
