package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/example/presence-chat/modules/api"
	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/chat"
	"github.com/example/presence-chat/modules/storage"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration from environment
	port := getEnv("PORT", "3000")
	storagePath := getEnv("STORAGE_PATH", "/tmp/presence-chat")

	storageCfg := storage.DefaultConfig()
	storageCfg.DBPath = getEnv("DB_PATH", storageCfg.DBPath)
	storageCfg.DBDebug = getEnvBool("DB_DEBUG", false)
	storageCfg.RedisAddr = getEnv("REDIS_ADDR", "")
	storageCfg.CacheTTL = getEnvDuration("HISTORY_CACHE_TTL", storageCfg.CacheTTL)

	chatCfg := chat.DefaultConfig()
	chatCfg.Engine.MaxRoomUsers = getEnvInt("ROOM_MAX_USERS", chatCfg.Engine.MaxRoomUsers)
	chatCfg.Engine.RestoreGrace = getEnvDuration("ROOM_RESTORE_GRACE", chatCfg.Engine.RestoreGrace)
	chatCfg.Dispatcher.Workers = getEnvInt("PERSIST_WORKERS", chatCfg.Dispatcher.Workers)

	apiCfg := api.DefaultConfig()
	apiCfg.Port = port
	apiCfg.AllowedOrigins = getEnv("ALLOWED_ORIGINS", apiCfg.AllowedOrigins)
	apiCfg.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", apiCfg.MaxUploadSize)
	apiCfg.MessagesPerSecond = getEnvFloat("WS_MESSAGES_PER_SECOND", apiCfg.MessagesPerSecond)
	apiCfg.Burst = getEnvInt("WS_BURST", apiCfg.Burst)

	log.Println("=== Presence Chat ===")
	log.Printf("Port: %s", port)
	log.Printf("Storage Path: %s", storagePath)
	log.Printf("Database: %s", storageCfg.DBPath)

	// Create mono application with embedded NATS JetStream
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithJetStreamStorageDir(storagePath),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Room files live in a JetStream object store bucket
	storagePlugin, err := fsjetstream.New(fsjetstream.Config{
		Buckets: []fsjetstream.BucketConfig{
			{
				Name:        storageCfg.Bucket,
				Description: "Files shared in chat rooms",
				MaxBytes:    1024 * 1024 * 1024, // 1GB max storage
				Storage:     fsjetstream.FileStorage,
				Compression: true,
			},
		},
	})
	if err != nil {
		log.Fatalf("Failed to create storage plugin: %v", err)
	}
	if err := app.RegisterPlugin(storagePlugin, "storage"); err != nil {
		log.Fatalf("Failed to register storage plugin: %v", err)
	}

	// Create modules
	storageModule := storage.NewModule(storageCfg, app.Logger())
	broadcastModule := broadcast.NewModule(broadcast.DefaultHubConfig(), app.Logger())
	chatModule := chat.NewModule(chatCfg, app.Logger())
	apiModule := api.NewModule(apiCfg, app.Logger())

	// Wire in-process collaborators that are not exposed via ServiceContainer
	hub := broadcastModule.GetHub()
	chatModule.SetSubscriptions(hub)
	apiModule.SetHub(hub)
	apiModule.SetEngine(chatModule)
	apiModule.SetFiles(storageModule)

	// Register modules with the framework.
	// - storage: persistence (EventConsumerModule + ServiceProviderModule + plugin user)
	// - broadcast: connection hub (EventConsumerModule for upload progress)
	// - chat: presence engine (ServiceProviderModule + EventEmitterModule, depends on storage)
	// - api: Fiber HTTP/WebSocket server (depends on chat and storage)
	app.Register(storageModule)
	app.Register(broadcastModule)
	app.Register(chatModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(port)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(port string) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                              - Health check")
	log.Println("  GET    /api/v1/rooms                        - List live rooms")
	log.Println("  GET    /api/v1/rooms/:name                  - Get room details")
	log.Println("  GET    /api/v1/rooms/:name/messages?userId= - Message history")
	log.Println("  POST   /api/v1/rooms/:name/files?userId=    - Upload a file to a room")
	log.Println("  GET    /api/v1/files/*?userId=              - Download a room file")
	log.Println("  GET    /api/v1/presence                     - Presence table")
	log.Println("  POST   /api/v1/restrictions                 - Check room size restriction")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Printf("  Connect with: ws://localhost:%s/ws?userId=1&userName=alice", port)
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvInt64 returns environment variable as int64 or default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int64 value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvFloat returns environment variable as float64 or default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Warning: invalid float value for %s: %s, using default: %g", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvBool returns environment variable as bool or default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Printf("Warning: invalid bool value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration returns environment variable as time.Duration or default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}
