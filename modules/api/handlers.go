package api

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/example/presence-chat/modules/chat"
	"github.com/example/presence-chat/modules/storage"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))

	// REST API v1
	api := app.Group("/api/v1")

	api.Get("/rooms", m.listRooms)
	api.Get("/rooms/:name", m.getRoom)
	api.Get("/rooms/:name/messages", m.getHistory)
	api.Post("/rooms/:name/files", m.uploadFile)
	api.Get("/files/*", m.downloadFile)
	api.Get("/presence", m.getPresence)
	api.Post("/restrictions", m.checkRestriction)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":            "api",
			"connected_clients": m.hub.ClientCount(),
		},
	})
}

// listRooms handles GET /api/v1/rooms.
func (m *APIModule) listRooms(c *fiber.Ctx) error {
	rooms, err := m.chatAdapter.ListRooms(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to list rooms", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: "Failed to list rooms",
		})
	}

	response := RoomListResponse{
		Rooms: make([]RoomResponse, 0, len(rooms)),
	}
	for _, room := range rooms {
		response.Rooms = append(response.Rooms, RoomResponse{
			Name:    room.Name,
			Starter: room.Starter,
			UserIDs: room.UserIDs,
			Online:  m.hub.TopicClientCount(room.Name),
		})
	}

	return c.JSON(response)
}

// getRoom handles GET /api/v1/rooms/:name.
func (m *APIModule) getRoom(c *fiber.Ctx) error {
	name := c.Params("name")

	room, err := m.chatAdapter.GetRoom(c.UserContext(), name)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Error:   "not_found",
				Message: "Room not found",
			})
		}
		m.logger.Error("Failed to get room", "room", name, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "get_failed",
			Message: "Failed to get room",
		})
	}

	return c.JSON(RoomResponse{
		Name:    room.Name,
		Starter: room.Starter,
		UserIDs: room.UserIDs,
		Online:  m.hub.TopicClientCount(room.Name),
	})
}

// getHistory handles GET /api/v1/rooms/:name/messages?userId=&limit=.
func (m *APIModule) getHistory(c *fiber.Ctx) error {
	name := c.Params("name")

	userID, err := queryUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	}
	if ok, err := m.requireMember(c, name, userID); !ok {
		return err
	}

	limit := defaultHistoryLimit
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(parsed, maxHistoryLimit)
	}

	messages, err := m.storage.Messages(c.UserContext(), name, limit)
	if err != nil {
		m.logger.Error("Failed to get history", "room", name, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "history_failed",
			Message: "Failed to get message history",
		})
	}

	return c.JSON(HistoryResponse{
		RoomName: name,
		Messages: messages,
	})
}

// getPresence handles GET /api/v1/presence.
func (m *APIModule) getPresence(c *fiber.Ctx) error {
	resp, err := m.chatAdapter.Presence(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to get presence", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "presence_failed",
			Message: "Failed to get presence",
		})
	}

	return c.JSON(PresenceResponse{
		Presences:   resp.Presences,
		Connections: resp.Stats.Connections,
		OnlineUsers: resp.Stats.OnlineUsers,
		Rooms:       resp.Stats.Rooms,
	})
}

// checkRestriction handles POST /api/v1/restrictions.
func (m *APIModule) checkRestriction(c *fiber.Ctx) error {
	var req RestrictionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}

	permitted, err := m.chatAdapter.CheckRestriction(c.UserContext(), chat.CheckRestrictionRequest{
		Operation: req.Operation,
		TriggerID: req.TriggerUserID,
		UserIDs:   req.UserIDs,
		RoomName:  req.Room,
	})
	if err != nil {
		m.logger.Error("Failed to check restriction", "operation", req.Operation, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "restriction_failed",
			Message: "Failed to check restriction",
		})
	}

	return c.JSON(RestrictionResponse{Permission: permitted})
}

// downloadFile handles GET /api/v1/files/*?userId=. Anything a non-member
// asks for is reported as missing.
func (m *APIModule) downloadFile(c *fiber.Ctx) error {
	key := c.Params("*")

	notFound := func() error {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "File not found",
		})
	}

	if m.files == nil {
		return notFound()
	}
	userID, err := queryUserID(c)
	if err != nil {
		return notFound()
	}
	roomName, err := storage.RoomOfKey(key)
	if err != nil {
		return notFound()
	}
	member, err := m.chatAdapter.IsMember(c.UserContext(), roomName, userID)
	if err != nil {
		m.logger.Error("Failed to check membership", "room", roomName, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "download_failed",
			Message: "Failed to download file",
		})
	}
	if !member {
		return notFound()
	}

	reader, info, err := m.files.Open(c.UserContext(), key)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return notFound()
		}
		m.logger.Error("Failed to open file", "key", key, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "download_failed",
			Message: "Failed to download file",
		})
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = detectContentType(info.Name)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", info.Name))
	return c.SendStream(reader, int(info.Size))
}

// requireMember writes a 403 response unless userID belongs to roomName.
func (m *APIModule) requireMember(c *fiber.Ctx, roomName string, userID int64) (bool, error) {
	member, err := m.chatAdapter.IsMember(c.UserContext(), roomName, userID)
	if err != nil {
		m.logger.Error("Failed to check membership", "room", roomName, "error", err)
		return false, c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "membership_failed",
			Message: "Failed to check room membership",
		})
	}
	if !member {
		return false, c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Error:   "forbidden",
			Message: "Not a member of this room",
		})
	}
	return true, nil
}

func queryUserID(c *fiber.Ctx) (int64, error) {
	userID, err := strconv.ParseInt(c.Query("userId"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("userId must be a positive integer")
	}
	return userID, nil
}
