package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/task/models"
)

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func newTestClient(hub *Hub, id string, buffer int) *Client {
	return &Client{
		ID:      id,
		hub:     hub,
		send:    make(chan []byte, buffer),
		taskIDs: make(map[string]bool),
		logger:  hub.logger,
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.GetClientCount() == want
	}, time.Second, 5*time.Millisecond)
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub, "c1", 4)

	hub.Register(client)
	waitForClients(t, hub, 1)

	hub.Unregister(client)
	waitForClients(t, hub, 0)
}

func TestHub_BroadcastReachesTaskSubscribers(t *testing.T) {
	hub, _ := newTestHub(t)

	subscribed := newTestClient(hub, "c1", 4)
	other := newTestClient(hub, "c2", 4)
	hub.Register(subscribed)
	hub.Register(other)
	waitForClients(t, hub, 2)

	hub.SubscribeClient(subscribed, "task-1")
	hub.SubscribeClient(other, "task-2")
	assert.Equal(t, 1, hub.GetTaskSubscriberCount("task-1"))

	artifact := models.NewArtifact("task-1", models.ArtifactMessage)
	artifact.Ordering = 1
	artifact.Content = "hello"
	hub.Broadcast(&Notification{Type: "artifact", TaskID: "task-1", Artifact: artifact})

	select {
	case data := <-subscribed.send:
		var n Notification
		require.NoError(t, json.Unmarshal(data, &n))
		assert.Equal(t, "artifact", n.Type)
		assert.Equal(t, "task-1", n.TaskID)
		require.NotNil(t, n.Artifact)
		assert.Equal(t, "hello", n.Artifact.Content)
	case <-time.After(time.Second):
		t.Fatal("subscribed client never received the notification")
	}

	select {
	case <-other.send:
		t.Fatal("client subscribed to a different task received the notification")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub, "c1", 4)
	hub.Register(client)
	waitForClients(t, hub, 1)

	hub.SubscribeClient(client, "task-1")
	hub.UnsubscribeClient(client, "task-1")
	assert.Equal(t, 0, hub.GetTaskSubscriberCount("task-1"))

	hub.Broadcast(&Notification{Type: "status", TaskID: "task-1", Status: "running"})

	select {
	case <-client.send:
		t.Fatal("unsubscribed client received a notification")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub, "c1", 1)
	hub.Register(client)
	waitForClients(t, hub, 1)
	hub.SubscribeClient(client, "task-1")

	// The client never drains; the second delivery overflows its buffer
	// and the hub drops the connection.
	for i := 0; i < 3; i++ {
		hub.Broadcast(&Notification{Type: "status", TaskID: "task-1", Status: "running"})
	}

	waitForClients(t, hub, 0)
	assert.Equal(t, 0, hub.GetTaskSubscriberCount("task-1"))
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, cancel := newTestHub(t)
	client := newTestClient(hub, "c1", 4)
	hub.Register(client)
	waitForClients(t, hub, 1)

	cancel()

	select {
	case _, ok := <-client.send:
		assert.False(t, ok, "send channel should be closed on shutdown")
	case <-time.After(time.Second):
		t.Fatal("send channel never closed")
	}
}
