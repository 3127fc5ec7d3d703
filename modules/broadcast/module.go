package broadcast

import (
	"context"
	"fmt"

	"github.com/example/presence-chat/events"
	"github.com/example/presence-chat/modules/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// BroadcastModule owns the connection hub and relays bus events to rooms.
type BroadcastModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
	logger    types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)
var _ chat.Subscriptions = (*Hub)(nil)

// NewModule creates a new BroadcastModule.
func NewModule(cfg HubConfig, logger types.Logger) *BroadcastModule {
	return &BroadcastModule{
		hub:    NewHub(cfg, logger),
		logger: logger,
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module and starts the hub.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	m.logger.Info("Broadcast module started")
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	m.logger.Info("Broadcast module stopped", "clients", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
			"active_topics":     m.hub.TopicCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.FileProgressV1, m.handleFileProgress, m,
	); err != nil {
		return fmt.Errorf("failed to register FileProgress consumer: %w", err)
	}
	m.logger.Info("Registered event consumers", "events", "FileProgress")
	return nil
}

func (m *BroadcastModule) handleFileProgress(_ context.Context, event events.FileProgressEvent, _ *mono.Msg) error {
	frame, err := chat.Encode(chat.EventFileReceive, chat.FileReceivePayload{
		UserID:       event.UserID,
		RoomName:     event.RoomName,
		UploadedSize: event.UploadedSize,
		FileSize:     event.FileSize,
		FirstSend:    event.FirstSend,
	})
	if err != nil {
		m.logger.Error("Failed to encode upload progress", "room", event.RoomName, "error", err)
		return nil
	}
	sent := m.hub.Publish(event.RoomName, "", frame)
	m.logger.Debug("Relayed upload progress",
		"room", event.RoomName,
		"uploaded", event.UploadedSize,
		"size", event.FileSize,
		"clients", sent)
	return nil
}

// GetHub returns the connection hub.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}
