package api

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/example/presence-chat/modules/chat"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 64 << 10

// handleWebSocket handles GET /ws?userId=&userName=.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	connID := uuid.New().String()
	userName := c.Query("userName")
	userID, err := strconv.ParseInt(c.Query("userId"), 10, 64)
	if err == nil {
		err = chat.ValidateUser(userID, userName)
	}
	if err != nil {
		// The hub does not own the socket yet, so write directly.
		_ = c.WriteMessage(websocket.TextMessage, chat.EncodeError("Invalid identity: "+err.Error()))
		return
	}

	if _, err := m.hub.Register(connID, userID, c); err != nil {
		m.logger.Error("Failed to register connection", "connection", connID, "error", err)
		return
	}
	defer m.hub.Unregister(connID)

	ctx := context.Background()
	if _, err := m.engine.Connect(ctx, connID, userID, userName); err != nil {
		m.logger.Error("Failed to connect session", "connection", connID, "userId", userID, "error", err)
		return
	}
	defer func() {
		if err := m.engine.Disconnect(context.Background(), connID); err != nil {
			m.logger.Warn("Failed to disconnect session", "connection", connID, "error", err)
		}
		m.logger.Info("WebSocket client disconnected", "connection", connID, "userId", userID)
	}()

	m.logger.Info("WebSocket client connected", "connection", connID, "userId", userID, "userName", userName)

	c.SetReadLimit(maxFrameSize)
	if m.config.ReadTimeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		})
	}

	limiter := rate.NewLimiter(rate.Limit(m.config.MessagesPerSecond), m.config.Burst)

	// Message loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("Client closed connection", "connection", connID)
			} else {
				m.logger.Debug("Read error", "connection", connID, "error", err)
			}
			return
		}
		if m.config.ReadTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		}

		if !limiter.Allow() {
			m.hub.Send(connID, chat.EncodeError("Rate limit exceeded, please slow down"))
			continue
		}

		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			m.hub.Send(connID, chat.EncodeError("Invalid message format"))
			continue
		}

		if err := m.engine.Handle(ctx, connID, env); err != nil {
			m.logger.Warn("Engine rejected frame", "connection", connID, "type", env.Type, "error", err)
			return
		}
	}
}
