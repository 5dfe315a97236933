package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/computeruse/agentd/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe("task.artifact.t1", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("task.artifact", "test-source", map[string]interface{}{"ordering": 1})
	if err := bus.Publish(ctx, "task.artifact.t1", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, e.ID)
		}
		if e.Type != event.Type {
			t.Errorf("Expected event type %s, got %s", event.Type, e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("task.status", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event := NewEvent("task.status", "test", nil)
	if err := bus.Publish(ctx, "task.status", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	if err := bus.Publish(ctx, "task.status", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected 1 handler call, got %d", got)
	}
}

func TestMemoryEventBus_SingleTokenWildcard(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("task.status_changed.*", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("task.status_changed", "test", nil)
	if err := bus.Publish(ctx, "task.status_changed.task-a", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(ctx, "task.status_changed.task-b", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// Missing token: must not match
	if err := bus.Publish(ctx, "task.status_changed", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("Expected 2 events received, got %d", got)
	}
}

func TestMemoryEventBus_MultiTokenWildcard(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("turn.>", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("turn.started", "test", nil)
	if err := bus.Publish(ctx, "turn.started", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(ctx, "turn.started.task-a", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("Expected 2 events received, got %d", got)
	}
}

func TestMemoryEventBus_ExactMatch(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("turn.completed.task-a", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("turn.completed", "test", nil)
	if err := bus.Publish(ctx, "turn.completed.task-a", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(ctx, "turn.completed.task-b", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected 1 event, got %d", got)
	}
}

func TestMemoryEventBus_QueueSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count int32

	for i := 0; i < 3; i++ {
		sub, err := bus.QueueSubscribe("task.created", "workers", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("QueueSubscribe %d failed: %v", i, err)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	for i := 0; i < 6; i++ {
		event := NewEvent("task.created", "test", nil)
		if err := bus.Publish(ctx, "task.created", event); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	// Each event goes to exactly one subscriber in the group.
	if got := atomic.LoadInt32(&count); got != 6 {
		t.Errorf("Expected 6 handler calls, got %d", got)
	}
}

// Handlers run synchronously in publish order. Artifact consumers rely on
// this; async dispatch lets later events overtake earlier ones.
func TestMemoryEventBus_MessageOrdering(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	const numEvents = 100

	var mu sync.Mutex
	receivedOrder := make([]int, 0, numEvents)

	sub, err := bus.Subscribe("task.artifact.t1", func(ctx context.Context, event *Event) error {
		seq := event.Data["seq"].(int)
		mu.Lock()
		receivedOrder = append(receivedOrder, seq)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for i := 0; i < numEvents; i++ {
		event := NewEvent("task.artifact", "test", map[string]interface{}{"seq": i})
		if err := bus.Publish(ctx, "task.artifact.t1", event); err != nil {
			t.Fatalf("Publish failed at seq %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()

	if len(receivedOrder) != numEvents {
		t.Fatalf("Expected %d events, got %d", numEvents, len(receivedOrder))
	}
	for i, seq := range receivedOrder {
		if seq != i {
			t.Fatalf("Ordering violation at position %d: expected seq %d, got %d", i, i, seq)
		}
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))

	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after Close")
	}

	ctx := context.Background()
	event := NewEvent("task.created", "test", nil)
	if err := bus.Publish(ctx, "task.created", event); err == nil {
		t.Error("Expected error when publishing to closed bus")
	}
	if _, err := bus.Subscribe("task.created", func(ctx context.Context, event *Event) error {
		return nil
	}); err == nil {
		t.Error("Expected error when subscribing to closed bus")
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewEvent("task.created", "api", map[string]interface{}{"task_id": "t1"})
	after := time.Now().UTC()

	if event.ID == "" {
		t.Error("Expected event ID to be set")
	}
	if event.Type != "task.created" {
		t.Errorf("Expected type task.created, got %s", event.Type)
	}
	if event.Source != "api" {
		t.Errorf("Expected source api, got %s", event.Source)
	}
	if event.Data["task_id"] != "t1" {
		t.Error("Expected data to carry task_id")
	}
	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Error("Expected timestamp to be set correctly")
	}
}
