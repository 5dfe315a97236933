package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/computeruse/agentd/internal/common/config"
	"github.com/computeruse/agentd/internal/common/database"
	"github.com/computeruse/agentd/internal/common/httpmw"
	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/driver"
	"github.com/computeruse/agentd/internal/driver/scripted"
	"github.com/computeruse/agentd/internal/events"
	"github.com/computeruse/agentd/internal/events/bus"
	"github.com/computeruse/agentd/internal/gateway/api"
	gatewayws "github.com/computeruse/agentd/internal/gateway/websocket"
	"github.com/computeruse/agentd/internal/media"
	"github.com/computeruse/agentd/internal/orchestrator"
	"github.com/computeruse/agentd/internal/orchestrator/broadcast"
	"github.com/computeruse/agentd/internal/orchestrator/registry"
	"github.com/computeruse/agentd/internal/orchestrator/sequencer"
	"github.com/computeruse/agentd/internal/task/models"
	"github.com/computeruse/agentd/internal/task/repository"
	postgresrepo "github.com/computeruse/agentd/internal/task/repository/postgres"
	sqliterepo "github.com/computeruse/agentd/internal/task/repository/sqlite"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer log.Sync()

	log.Info("Starting agentd",
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("agent_driver", cfg.Agent.Driver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Open the task store
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open task store", zap.Error(err))
	}
	defer store.Close()

	// 4. Initialize event bus (NATS or in-memory)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	// 5. Initialize media store
	mediaStore, err := media.New(cfg.Media, log)
	if err != nil {
		log.Fatal("Failed to initialize media store", zap.Error(err))
	}

	// 6. Build the orchestration core
	seq := sequencer.New(store)
	reg := registry.New(log)
	broadcaster := broadcast.New(store, log)

	// 7. Select the turn driver
	turnDriver, tools, err := buildDriver(cfg.Agent.Driver)
	if err != nil {
		log.Fatal("Failed to build turn driver", zap.Error(err))
	}

	orch := orchestrator.New(store, seq, reg, broadcaster, mediaStore,
		turnDriver, tools, provided.Bus, log, orchestrator.Options{
			MaxHistoryArtifacts: cfg.Agent.MaxHistoryArtifacts,
		})

	// 8. Initialize WebSocket hub and fan artifacts out to it and the bus
	hub := gatewayws.NewHub(log)
	broadcaster.RegisterSink(func(taskID string, artifact *models.Artifact) {
		hub.Broadcast(&gatewayws.Notification{
			Type:     "artifact",
			TaskID:   taskID,
			Artifact: artifact,
		})
	})
	broadcaster.RegisterSink(func(taskID string, artifact *models.Artifact) {
		event := bus.NewEvent(events.TaskArtifact, "broadcaster", map[string]interface{}{
			"task_id":  taskID,
			"artifact": artifact,
		})
		if err := provided.Bus.Publish(context.Background(), events.BuildTaskArtifactSubject(taskID), event); err != nil {
			log.WithTaskID(taskID).WithError(err).Warn("Failed to publish artifact event")
		}
	})

	// 9. Forward task status changes to WebSocket subscribers
	statusSub, err := provided.Bus.Subscribe(events.BuildTaskStatusWildcardSubject(), func(ctx context.Context, event *bus.Event) error {
		taskID, _ := event.Data["task_id"].(string)
		status, _ := event.Data["status"].(string)
		if taskID == "" {
			return nil
		}
		hub.Broadcast(&gatewayws.Notification{
			Type:   "status",
			TaskID: taskID,
			Status: status,
		})
		return nil
	})
	if err != nil {
		log.Fatal("Failed to subscribe to status events", zap.Error(err))
	}
	defer statusSub.Unsubscribe()

	// 10. Setup Gin router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "agentd"))

	// 11. Register routes
	v1 := router.Group("/api/v1")
	api.SetupRoutes(v1, store, orch, provided.Bus, log)
	gatewayws.SetupWebSocketRoutes(v1, gatewayws.NewWSHandler(hub, log))
	router.Static(cfg.Media.BaseURL, mediaStore.Dir())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "agentd",
		})
	})

	// 12. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 13. Start hub and server
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 14. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agentd...")

	// 15. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := g.Wait(); err != nil {
		log.Error("Server error", zap.Error(err))
	}

	log.Info("agentd stopped")
}

// openStore selects the persistence backend from configuration.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		log.Info("Using SQLite task store", zap.String("path", cfg.Database.Path))
		return sqliterepo.New(cfg.Database.Path)
	case "postgres":
		log.Info("Using PostgreSQL task store", zap.String("host", cfg.Database.Host))
		db, err := database.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return postgresrepo.New(ctx, db)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}
}

// buildDriver selects the turn driver named in configuration. Production
// deployments replace this with their own driver wiring.
func buildDriver(name string) (driver.TurnDriver, driver.ToolExecutor, error) {
	switch name {
	case "echo":
		return scripted.NewEcho(), scripted.NewStaticExecutor(nil), nil
	default:
		return nil, nil, fmt.Errorf("unknown agent driver: %s", name)
	}
}
