package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/computeruse/agentd/internal/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// clientRequest is the inbound control message from a client.
type clientRequest struct {
	Action string `json:"action"` // subscribe | unsubscribe
	TaskID string `json:"task_id"`
}

// clientResponse acknowledges a control message.
type clientResponse struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client represents a single WebSocket connection
type Client struct {
	ID      string
	conn    *websocket.Conn
	hub     *Hub
	send    chan []byte
	taskIDs map[string]bool
	mu      sync.RWMutex
	logger  *logger.Logger
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:      id,
		conn:    conn,
		hub:     hub,
		send:    make(chan []byte, 256),
		taskIDs: make(map[string]bool),
		logger:  log.WithFields(zap.String("client_id", id)),
	}
}

func (c *Client) addTask(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskIDs[taskID] = true
}

func (c *Client) removeTask(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.taskIDs, taskID)
}

// ReadPump pumps control messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var req clientRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendResponse(clientResponse{Type: "error", Success: false, Error: "invalid message format"})
			continue
		}
		c.handleRequest(req)
	}
}

func (c *Client) handleRequest(req clientRequest) {
	if req.TaskID == "" {
		c.sendResponse(clientResponse{Type: "error", Action: req.Action, Success: false, Error: "task_id is required"})
		return
	}

	switch req.Action {
	case "subscribe":
		c.hub.SubscribeClient(c, req.TaskID)
	case "unsubscribe":
		c.hub.UnsubscribeClient(c, req.TaskID)
	default:
		c.sendResponse(clientResponse{Type: "error", Action: req.Action, Success: false, Error: "unknown action"})
		return
	}

	c.sendResponse(clientResponse{Type: "ack", Action: req.Action, TaskID: req.TaskID, Success: true})
}

func (c *Client) sendResponse(resp clientResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("Failed to marshal response", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full")
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Batch additional queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
