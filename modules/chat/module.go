package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/events"
	"github.com/example/presence-chat/modules/storage"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// Config holds chat module configuration.
type Config struct {
	Engine     EngineConfig
	Dispatcher DispatcherConfig
}

// DefaultConfig returns the default chat configuration.
func DefaultConfig() Config {
	return Config{
		Engine:     DefaultEngineConfig(),
		Dispatcher: DefaultDispatcherConfig(),
	}
}

// Module owns the presence and room engine.
type Module struct {
	config     Config
	subs       Subscriptions
	eventBus   mono.EventBus
	storage    storage.StoragePort
	dispatcher *Dispatcher
	engine     *Engine
	cancel     context.CancelFunc
	logger     types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new chat module.
func NewModule(cfg Config, logger types.Logger) *Module {
	return &Module{
		config: cfg,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// SetSubscriptions sets the fan-out used by the engine. Must be called before Start.
func (m *Module) SetSubscriptions(subs Subscriptions) {
	m.subs = subs
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
		events.FileSentV1.ToBase(),
	}
}

// Dependencies returns the modules this module depends on.
func (m *Module) Dependencies() []string {
	return []string{"storage"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "storage" {
		m.storage = storage.NewStorageAdapter(container)
	}
}

// Connect registers a connection with the running engine.
func (m *Module) Connect(ctx context.Context, connID string, userID int64, userName string) (domain.Presence, error) {
	engine, err := m.running()
	if err != nil {
		return domain.Presence{}, err
	}
	return engine.Connect(ctx, connID, userID, userName)
}

// Disconnect removes a connection from the running engine.
func (m *Module) Disconnect(ctx context.Context, connID string) error {
	engine, err := m.running()
	if err != nil {
		return err
	}
	return engine.Disconnect(ctx, connID)
}

// Handle passes an inbound frame to the running engine.
func (m *Module) Handle(ctx context.Context, connID string, env Envelope) error {
	engine, err := m.running()
	if err != nil {
		return err
	}
	return engine.Handle(ctx, connID, env)
}

// Start runs the engine and restores rooms saved before the last shutdown.
func (m *Module) Start(ctx context.Context) error {
	if m.subs == nil {
		return fmt.Errorf("chat: subscriptions not set")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.dispatcher = NewDispatcher(m.config.Dispatcher, m.logger)
	if err := m.dispatcher.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	persister := newBusPersister(m.eventBus, m.storage)
	m.engine = NewEngine(m.config.Engine, m.subs, persister, m.dispatcher, m.logger)
	go m.engine.Run(runCtx)

	if m.storage != nil {
		m.restore(ctx)
	}

	m.logger.Info("Chat module started",
		"maxRoomUsers", m.config.Engine.MaxRoomUsers,
		"workers", m.config.Dispatcher.Workers)
	return nil
}

func (m *Module) restore(ctx context.Context) {
	rooms, err := m.storage.LoadRooms(ctx)
	if err != nil {
		m.logger.Warn("Failed to load saved rooms", "error", err)
		return
	}
	restored, err := m.engine.Restore(ctx, rooms)
	if err != nil {
		m.logger.Warn("Failed to restore rooms", "error", err)
		return
	}
	if restored > 0 {
		m.logger.Info("Restored rooms", "count", restored, "grace", m.config.Engine.RestoreGrace)
	}
}

// Stop stops the engine and drains queued persistence tasks.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.engine.Wait()

	if err := m.dispatcher.Stop(ctx); err != nil {
		return fmt.Errorf("failed to drain persistence queue: %w", err)
	}
	m.logger.Info("Chat module stopped", "failedTasks", m.dispatcher.Failed())
	return nil
}

// Health reports engine counters.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	engine, err := m.running()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	stats, err := engine.Stats(ctx)
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("engine unresponsive: %v", err)}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connections":   stats.Connections,
			"online_users":  stats.OnlineUsers,
			"rooms":         stats.Rooms,
			"failed_writes": m.dispatcher.Failed(),
		},
	}
}

func (m *Module) running() (*Engine, error) {
	if m.engine == nil {
		return nil, errors.New("chat module not started")
	}
	return m.engine, nil
}
