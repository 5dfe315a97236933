package api

import (
	"github.com/gin-gonic/gin"

	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/events/bus"
	"github.com/computeruse/agentd/internal/orchestrator"
	"github.com/computeruse/agentd/internal/task/repository"
)

// SetupRoutes configures the task API routes
func SetupRoutes(router *gin.RouterGroup, store repository.Store, orch *orchestrator.Orchestrator, eventBus bus.EventBus, log *logger.Logger) {
	handler := NewHandlers(store, orch, eventBus, log)

	tasks := router.Group("/tasks")
	{
		tasks.POST("", handler.CreateTask)
		tasks.GET("", handler.ListTasks)
		tasks.GET("/:id", handler.GetTask)
		tasks.POST("/:id/messages", handler.SendMessage)
		tasks.POST("/:id/stop", handler.StopTask)
		tasks.GET("/:id/artifacts", handler.ListArtifacts)
		tasks.GET("/:id/stream", handler.StreamTask)
	}
}
