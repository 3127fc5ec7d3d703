package api

import (
	"context"
	"fmt"
	"io"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/events"
	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/chat"
	"github.com/example/presence-chat/modules/storage"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Engine is the session side of the chat engine used by WebSocket handlers.
type Engine interface {
	Connect(ctx context.Context, connID string, userID int64, userName string) (domain.Presence, error)
	Disconnect(ctx context.Context, connID string) error
	Handle(ctx context.Context, connID string, env chat.Envelope) error
}

// Hub is the connection registry WebSocket handlers write through.
type Hub interface {
	Register(connID string, userID int64, conn broadcast.Conn) (*broadcast.Client, error)
	Unregister(connID string)
	Send(connID string, frame []byte) bool
	ClientCount() int
	TopicClientCount(topic string) int
}

// Files streams room files in and out of the blob store.
type Files interface {
	Upload(ctx context.Context, roomName, filename, contentType string, reader io.Reader) (*storage.StoredObject, error)
	Open(ctx context.Context, key string) (io.ReadCloser, *storage.StoredObject, error)
}

// Config holds API module configuration.
type Config struct {
	Port              string
	AllowedOrigins    string
	MaxUploadSize     int64
	MessagesPerSecond float64
	Burst             int
	ReadTimeout       time.Duration // WebSocket read deadline, extended by pongs
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() Config {
	return Config{
		Port:              "3000",
		AllowedOrigins:    "http://localhost:3000,http://localhost:8080",
		MaxUploadSize:     50 << 20,
		MessagesPerSecond: 10,
		Burst:             20,
		ReadTimeout:       75 * time.Second,
	}
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	config      Config
	app         *fiber.App
	chatAdapter chat.ChatPort
	storage     storage.StoragePort
	engine      Engine
	hub         Hub
	files       Files
	eventBus    mono.EventBus
	logger      types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)
var _ mono.EventBusAwareModule = (*APIModule)(nil)
var _ mono.EventEmitterModule = (*APIModule)(nil)
var _ Engine = (*chat.Module)(nil)
var _ Hub = (*broadcast.Hub)(nil)
var _ Files = (*storage.Module)(nil)

// NewModule creates a new APIModule.
func NewModule(cfg Config, logger types.Logger) *APIModule {
	return &APIModule{
		config: cfg,
		logger: logger,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"chat", "storage"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "chat":
		m.chatAdapter = chat.NewChatAdapter(container)
	case "storage":
		m.storage = storage.NewStorageAdapter(container)
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *APIModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *APIModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.FileProgressV1.ToBase(),
	}
}

// SetHub sets the connection hub (called from main.go).
func (m *APIModule) SetHub(hub Hub) {
	m.hub = hub
}

// SetEngine sets the chat engine (called from main.go).
func (m *APIModule) SetEngine(engine Engine) {
	m.engine = engine
}

// SetFiles sets the blob streaming service (called from main.go).
func (m *APIModule) SetFiles(files Files) {
	m.files = files
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.chatAdapter == nil {
		return fmt.Errorf("chat adapter dependency not set")
	}
	if m.storage == nil {
		return fmt.Errorf("storage adapter dependency not set")
	}
	if m.hub == nil {
		return fmt.Errorf("broadcast hub dependency not set")
	}
	if m.engine == nil {
		return fmt.Errorf("chat engine dependency not set")
	}

	m.app = m.newApp()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.config.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "port", m.config.Port)
	return nil
}

func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Presence Chat",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		BodyLimit:             int(m.config.MaxUploadSize) + 1<<20,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(m.loggerMiddleware())
	if m.config.AllowedOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: m.config.AllowedOrigins,
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Content-Type,Authorization",
		}))
	}

	m.setupRoutes(app)
	return app
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{
		"port": m.config.Port,
	}
	if m.hub != nil {
		details["connected_clients"] = m.hub.ClientCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

// errorHandler handles errors globally.
func (m *APIModule) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	if code >= fiber.StatusInternalServerError {
		m.logger.Error("HTTP error", "code", code, "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// loggerMiddleware returns a Fiber middleware for request logging.
func (m *APIModule) loggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for WebSocket upgrade requests
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		m.logger.Debug("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start))
		return err
	}
}
