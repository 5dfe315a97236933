// Package websocket handles WebSocket connections for real-time artifact
// streaming.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/task/models"
)

// Notification is the envelope pushed to WebSocket clients.
type Notification struct {
	Type     string           `json:"type"`
	TaskID   string           `json:"task_id"`
	Artifact *models.Artifact `json:"artifact,omitempty"`
	Status   string           `json:"status,omitempty"`
}

// Hub manages all WebSocket clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Clients by task ID for efficient message routing
	taskClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Notification

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		taskClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Notification, 256),
		logger:      log.WithFields(zap.String("component", "websocket_hub")),
	}
}

// Run starts the hub processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.taskClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.dropSubscriptionsLocked(client)
			}
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := h.taskClients[msg.TaskID]
			h.mu.RUnlock()

			if len(clients) == 0 {
				continue
			}

			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("Failed to marshal notification", zap.Error(err))
				continue
			}

			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client send buffer is full, drop the connection
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
						h.dropSubscriptionsLocked(client)
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

// dropSubscriptionsLocked removes the client from every task index.
// Caller must hold h.mu.
func (h *Hub) dropSubscriptionsLocked(client *Client) {
	for taskID := range client.taskIDs {
		if clients, ok := h.taskClients[taskID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.taskClients, taskID)
			}
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues a notification for all clients subscribed to the task.
// It never blocks the caller beyond the hub's own buffer.
func (h *Hub) Broadcast(msg *Notification) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast buffer full, dropping notification",
			zap.String("task_id", msg.TaskID))
	}
}

// SubscribeClient subscribes a client to a task
func (h *Hub) SubscribeClient(client *Client, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.taskClients[taskID]; !ok {
		h.taskClients[taskID] = make(map[*Client]bool)
	}
	h.taskClients[taskID][client] = true
	client.addTask(taskID)
	h.logger.Debug("Client subscribed to task",
		zap.String("client_id", client.ID),
		zap.String("task_id", taskID))
}

// UnsubscribeClient unsubscribes a client from a task
func (h *Hub) UnsubscribeClient(client *Client, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.taskClients[taskID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.taskClients, taskID)
		}
	}
	client.removeTask(taskID)
	h.logger.Debug("Client unsubscribed from task",
		zap.String("client_id", client.ID),
		zap.String("task_id", taskID))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetTaskSubscriberCount returns the number of clients subscribed to a task
func (h *Hub) GetTaskSubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.taskClients[taskID]; ok {
		return len(clients)
	}
	return 0
}
