package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/events"
	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds storage module configuration.
type Config struct {
	DBPath    string
	DBDebug   bool
	Bucket    string
	RedisAddr string // empty disables the history cache
	CacheTTL  time.Duration
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		DBPath:   "chat.db",
		Bucket:   "chat-files",
		CacheTTL: 5 * time.Minute,
	}
}

// Module persists messages, files and room snapshots.
type Module struct {
	config  Config
	plugin  *fsjetstream.PluginModule
	db      *gorm.DB
	cache   *HistoryCache
	service *Service
	logger  types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.UsePluginModule       = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new storage module.
func NewModule(cfg Config, logger types.Logger) *Module {
	return &Module{
		config: cfg,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "storage"
}

// SetPlugin receives the blob storage plugin from the framework.
func (m *Module) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias != "storage" {
		return
	}
	storage, ok := plugin.(*fsjetstream.PluginModule)
	if !ok {
		m.logger.Error("Invalid plugin type for storage",
			"alias", alias,
			"expected", "*fsjetstream.PluginModule")
		return
	}
	m.plugin = storage
	m.logger.Info("Received storage plugin", "alias", alias)
}

// Start opens the database, the blob bucket and the optional cache.
func (m *Module) Start(ctx context.Context) error {
	logLevel := logger.Silent
	if m.config.DBDebug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(sqlite.Open(m.config.DBPath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	m.db = db

	repo := NewRepository(db)
	if err := repo.Migrate(); err != nil {
		return err
	}

	var blobs *BlobStore
	if m.plugin != nil {
		bucket := m.plugin.Bucket(m.config.Bucket)
		if bucket == nil {
			return fmt.Errorf("bucket '%s' not found in storage plugin", m.config.Bucket)
		}
		if blobs, err = NewBlobStore(bucket); err != nil {
			return err
		}
	} else {
		m.logger.Warn("No storage plugin registered, file uploads disabled")
	}

	if m.config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: m.config.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			m.logger.Warn("Redis unavailable, history cache disabled", "addr", m.config.RedisAddr, "error", err)
			_ = client.Close()
		} else {
			m.cache = NewHistoryCache(client, "chat:", m.config.CacheTTL)
			m.logger.Info("History cache enabled", "addr", m.config.RedisAddr, "ttl", m.config.CacheTTL)
		}
	}

	m.service = NewService(repo, blobs, m.cache, m.logger)
	m.logger.Info("Storage module started", "db", m.config.DBPath, "bucket", m.config.Bucket)
	return nil
}

// Stop closes the cache and the database connection.
func (m *Module) Stop(_ context.Context) error {
	if m.cache != nil {
		if err := m.cache.Close(); err != nil {
			m.logger.Warn("Failed to close redis client", "error", err)
		}
	}
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.logger.Info("Storage module stopped")
	return nil
}

// Health reports database and cache reachability.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("failed to get sql.DB: %v", err)}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err)}
	}

	details := map[string]any{
		"driver": "sqlite",
		"path":   m.config.DBPath,
		"blobs":  m.plugin != nil,
	}
	if m.cache != nil {
		details["cache"] = m.cache.Stats()
		if err := m.cache.Ping(ctx); err != nil {
			details["cache_error"] = err.Error()
		}
	}
	return mono.HealthStatus{Healthy: true, Message: "operational", Details: details}
}

// Upload streams a file into a room's namespace.
func (m *Module) Upload(ctx context.Context, roomName, filename, contentType string, reader io.Reader) (*StoredObject, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.service.Upload(ctx, roomName, filename, contentType, reader)
}

// Open returns a reader and metadata for a stored file.
func (m *Module) Open(ctx context.Context, key string) (io.ReadCloser, *StoredObject, error) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	return m.service.Open(ctx, key)
}

// RegisterEventConsumers subscribes to persisted chat events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageSentV1, m.handleMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.FileSentV1, m.handleFileSent, m,
	); err != nil {
		return fmt.Errorf("failed to register FileSent consumer: %w", err)
	}
	m.logger.Info("Registered event consumers", "events", "MessageSent, FileSent")
	return nil
}

// RegisterServices registers request-reply services under services.storage.*
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetMessages, json.Unmarshal, json.Marshal, m.getMessages,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetMessages, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceLoadRooms, json.Unmarshal, json.Marshal, m.loadRooms,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceLoadRooms, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSaveRoom, json.Unmarshal, json.Marshal, m.saveRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSaveRoom, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceCollectRoom, json.Unmarshal, json.Marshal, m.collectRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceCollectRoom, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetFileInfo, json.Unmarshal, json.Marshal, m.getFileInfo,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetFileInfo, err)
	}
	return nil
}

func (m *Module) ready() error {
	if m.service == nil {
		return fmt.Errorf("storage module not started")
	}
	return nil
}

func (m *Module) handleMessageSent(ctx context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	if err := m.ready(); err != nil {
		return err
	}
	err := m.service.SaveMessage(ctx, domain.Message{
		UserID:   event.UserID,
		RoomName: event.RoomName,
		Message:  event.Message,
		Time:     event.Time,
	})
	if err != nil {
		m.logger.Error("Failed to save message", "room", event.RoomName, "error", err)
		return nil
	}
	m.logger.Debug("Stored message", "room", event.RoomName, "userId", event.UserID)
	return nil
}

func (m *Module) handleFileSent(ctx context.Context, event events.FileSentEvent, _ *mono.Msg) error {
	if err := m.ready(); err != nil {
		return err
	}
	err := m.service.SaveFile(ctx, domain.File{
		UserID:   event.UserID,
		RoomName: event.RoomName,
		Store:    event.Store,
		MainType: event.MainType,
		FileName: event.FileName,
		FileData: event.FileData,
		Time:     event.Time,
	})
	if err != nil {
		m.logger.Error("Failed to save file", "room", event.RoomName, "store", event.Store, "error", err)
		return nil
	}
	m.logger.Debug("Stored file", "room", event.RoomName, "store", event.Store)
	return nil
}

func (m *Module) getMessages(ctx context.Context, req GetMessagesRequest, _ *mono.Msg) (GetMessagesResponse, error) {
	if err := m.ready(); err != nil {
		return GetMessagesResponse{}, err
	}
	if req.RoomName == "" {
		return GetMessagesResponse{}, fmt.Errorf("room_name is required")
	}
	messages, cached, err := m.service.Messages(ctx, req.RoomName, req.Limit)
	if err != nil {
		return GetMessagesResponse{}, err
	}
	return GetMessagesResponse{RoomName: req.RoomName, Messages: messages, Cached: cached}, nil
}

func (m *Module) loadRooms(ctx context.Context, _ LoadRoomsRequest, _ *mono.Msg) (LoadRoomsResponse, error) {
	if err := m.ready(); err != nil {
		return LoadRoomsResponse{}, err
	}
	rooms, err := m.service.Rooms(ctx)
	if err != nil {
		return LoadRoomsResponse{}, err
	}
	return LoadRoomsResponse{Rooms: rooms}, nil
}

func (m *Module) saveRoom(ctx context.Context, req SaveRoomRequest, _ *mono.Msg) (SaveRoomResponse, error) {
	if err := m.ready(); err != nil {
		return SaveRoomResponse{}, err
	}
	if req.Room.Name == "" {
		return SaveRoomResponse{}, fmt.Errorf("room name is required")
	}
	if err := m.service.SaveRoom(ctx, req.Room); err != nil {
		return SaveRoomResponse{}, err
	}
	return SaveRoomResponse{Saved: true}, nil
}

func (m *Module) collectRoom(ctx context.Context, req CollectRoomRequest, _ *mono.Msg) (CollectRoomResponse, error) {
	if err := m.ready(); err != nil {
		return CollectRoomResponse{}, err
	}
	deleted, err := m.service.CollectRoom(ctx, req.RoomName)
	resp := CollectRoomResponse{Deleted: deleted}
	if err != nil {
		// Partial failures still report what was deleted.
		m.logger.Warn("Room collection incomplete", "room", req.RoomName, "error", err)
		resp.Error = err.Error()
	}
	m.logger.Info("Collected room storage", "room", req.RoomName, "files", len(deleted))
	return resp, nil
}

func (m *Module) getFileInfo(ctx context.Context, req GetFileInfoRequest, _ *mono.Msg) (GetFileInfoResponse, error) {
	if err := m.ready(); err != nil {
		return GetFileInfoResponse{}, err
	}
	file, err := m.service.FileInfo(ctx, req.Key)
	if err != nil {
		return GetFileInfoResponse{}, err
	}
	return GetFileInfoResponse{File: file}, nil
}
