package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/computeruse/agentd/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

// WSHandler handles WebSocket connections
type WSHandler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(hub *Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// StreamTask upgrades the connection and subscribes it to one task.
// WS /api/v1/tasks/:id/ws
func (h *WSHandler) StreamTask(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "MISSING_TASK_ID", "message": "Task ID is required"},
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.hub.Register(client)
	h.hub.SubscribeClient(client, taskID)

	go client.WritePump()
	go client.ReadPump()
}

// StreamAll upgrades the connection; the client subscribes to tasks with
// control messages.
// WS /api/v1/ws
func (h *WSHandler) StreamAll(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// SetupWebSocketRoutes adds WebSocket routes to the router
func SetupWebSocketRoutes(router *gin.RouterGroup, handler *WSHandler) {
	router.GET("/tasks/:id/ws", handler.StreamTask)
	router.GET("/ws", handler.StreamAll)
}
