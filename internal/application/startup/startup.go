// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lvsuno/citinfos-go/internal/application/container"
	domainpresence "github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/database"
	presencestore "github.com/lvsuno/citinfos-go/internal/infrastructure/presence"
	"github.com/lvsuno/citinfos-go/internal/presentation/http/server"
	"github.com/lvsuno/citinfos-go/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Initialize performs the complete startup sequence
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	// Step 1: Structured logging and performance tracking
	log.Println("Initializing...")
	logger, err := logging.NewChanneledLogger(logging.DefaultLoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	perfTracker := performance.NewTracker(performance.DefaultTrackerConfig())
	logger.Startup().Info("Channeled logging initialized")

	// Step 2: Presence store (Redis-protocol, in-memory fallback)
	logger.Startup().Info("Connecting presence store...", "addr", config.RedisAddr)
	store := connectPresenceStore(logger)

	// Step 3: Durable event store
	logger.Startup().Info("Opening durable event store...", "driver", config.DBDriver, "path", config.DBPath)
	db, err := database.NewConnectionWithLogger(config.DBDriver, config.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open durable event store: %w", err)
	}
	defer db.Close()

	if err := database.NewTableCreator().CreateSchema(db.DB); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	logger.Startup().Info("Durable event store ready")

	// Step 4: Create dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer := container.NewContainer(store, db, logger, perfTracker)
	logger.Startup().Info("Dependency injection container created with singleton services")

	// Step 5: Start the stale visitor reaper
	logger.Startup().Info("Starting stale visitor reaper...", "interval", config.SweepInterval)
	go appContainer.ReaperService.Start(ctx)

	// Step 6: Start HTTP server
	logger.Startup().Info("Starting HTTP server...")
	port := config.Port
	httpServer := server.New(port, appContainer)

	// Step 7: Setup graceful shutdown
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", port)

	// Wait for shutdown signal
	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()

	// Cancel background tasks
	cancelBackgroundTasks()

	// Stop server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// connectPresenceStore dials the configured Redis-protocol store and falls
// back to the in-process store when it is unreachable. The fallback keeps
// live presence working on a single node; counts reset on restart.
func connectPresenceStore(logger *logging.ChanneledLogger) domainpresence.Store {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), config.StoreOpTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Startup().Warn("Presence store unreachable, using in-memory fallback", "addr", config.RedisAddr, "error", err.Error())
		client.Close()
		return presencestore.NewMemoryStore(func() time.Time { return time.Now().UTC() })
	}

	logger.Startup().Info("Presence store connected", "addr", config.RedisAddr)
	return presencestore.NewRedisStore(client, config.StoreOpTimeout, logger)
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
}
