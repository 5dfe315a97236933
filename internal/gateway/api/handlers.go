// Package api exposes the HTTP surface: task CRUD, message submission,
// stop requests, artifact history and the SSE stream.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/computeruse/agentd/internal/common/errors"
	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/events"
	"github.com/computeruse/agentd/internal/events/bus"
	"github.com/computeruse/agentd/internal/orchestrator"
	"github.com/computeruse/agentd/internal/task/models"
	"github.com/computeruse/agentd/internal/task/repository"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	store    repository.Store
	orch     *orchestrator.Orchestrator
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewHandlers creates the API handlers. The event bus may be nil in tests.
func NewHandlers(store repository.Store, orch *orchestrator.Orchestrator, eventBus bus.EventBus, log *logger.Logger) *Handlers {
	return &Handlers{store: store, orch: orch, eventBus: eventBus, logger: log}
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperrors.GetHTTPStatus(err), gin.H{"error": err.Error()})
}

// CreateTaskRequest is the payload for POST /tasks.
type CreateTaskRequest struct {
	Title string `json:"title"`
}

// CreateTask handles POST /tasks
func (h *Handlers) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	task := models.NewTask(req.Title)
	if err := h.store.CreateTask(c.Request.Context(), task); err != nil {
		h.logger.WithError(err).Error("Failed to create task")
		respondError(c, apperrors.InternalError("failed to create task", err))
		return
	}
	if h.eventBus != nil {
		subject := events.TaskCreated + "." + task.ID
		event := bus.NewEvent(events.TaskCreated, "api", map[string]interface{}{"task_id": task.ID})
		if err := h.eventBus.Publish(c.Request.Context(), subject, event); err != nil {
			h.logger.WithTaskID(task.ID).WithError(err).Warn("Failed to publish task created event")
		}
	}
	c.JSON(http.StatusCreated, task)
}

// ListTasks handles GET /tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	tasks, err := h.store.ListTasks(c.Request.Context())
	if err != nil {
		respondError(c, apperrors.InternalError("failed to list tasks", err))
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask handles GET /tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	task, err := h.store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task":    task,
		"running": h.orch.IsRunning(task.ID),
	})
}

// SendMessageRequest is the payload for POST /tasks/:id/messages.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage handles POST /tasks/:id/messages. The user message is
// persisted into the ordered stream first, then a turn is started; an
// in-flight turn is preempted by the orchestrator.
func (h *Handlers) SendMessage(c *gin.Context) {
	taskID := c.Param("id")

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest("content is required"))
		return
	}

	if _, err := h.store.GetTask(c.Request.Context(), taskID); err != nil {
		respondError(c, err)
		return
	}

	artifact, err := h.orch.AppendUserMessage(c.Request.Context(), taskID, req.Content)
	if err != nil {
		h.logger.WithTaskID(taskID).WithError(err).Error("Failed to persist user message")
		respondError(c, apperrors.InternalError("failed to persist message", err))
		return
	}

	if err := h.orch.StartTurn(c.Request.Context(), taskID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"artifact": artifact})
}

// StopTask handles POST /tasks/:id/stop
func (h *Handlers) StopTask(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := h.store.GetTask(c.Request.Context(), taskID); err != nil {
		respondError(c, err)
		return
	}
	stopped := h.orch.RequestStop(taskID)
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

// ListArtifacts handles GET /tasks/:id/artifacts
func (h *Handlers) ListArtifacts(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := h.store.GetTask(c.Request.Context(), taskID); err != nil {
		respondError(c, err)
		return
	}
	artifacts, err := h.store.ListArtifacts(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, apperrors.InternalError("failed to list artifacts", err))
		return
	}
	if artifacts == nil {
		artifacts = []*models.Artifact{}
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

// StreamTask handles GET /tasks/:id/stream as server-sent events: the
// full backlog first, then live artifacts, from one atomic subscription.
func (h *Handlers) StreamTask(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := h.store.GetTask(c.Request.Context(), taskID); err != nil {
		respondError(c, err)
		return
	}

	backlog, live, cancel, err := h.orch.Subscribe(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, apperrors.InternalError("failed to subscribe", err))
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	writeArtifact := func(a *models.Artifact) bool {
		data, err := json.Marshal(a)
		if err != nil {
			h.logger.WithTaskID(taskID).WithError(err).Error("Failed to marshal artifact")
			return true
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for _, a := range backlog {
		if !writeArtifact(a) {
			return
		}
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case a, ok := <-live:
			if !ok {
				// Dropped as a slow subscriber; the client reconnects
				// and replays from the backlog.
				h.logger.WithTaskID(taskID).Warn("SSE subscriber dropped",
					zap.String("remote_addr", c.ClientIP()))
				return
			}
			if !writeArtifact(a) {
				return
			}
		}
	}
}
