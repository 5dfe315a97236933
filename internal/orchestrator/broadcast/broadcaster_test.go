package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/task/models"
)

// memStore is an in-memory append-only artifact log with error injection.
type memStore struct {
	mu        sync.Mutex
	artifacts map[string][]*models.Artifact
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{artifacts: make(map[string][]*models.Artifact)}
}

func (m *memStore) AppendArtifact(ctx context.Context, artifact *models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.artifacts[artifact.TaskID] = append(m.artifacts[artifact.TaskID], artifact)
	return nil
}

func (m *memStore) MaxOrdering(ctx context.Context, taskID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, a := range m.artifacts[taskID] {
		if a.Ordering > max {
			max = a.Ordering
		}
	}
	return max, nil
}

func (m *memStore) ListArtifacts(ctx context.Context, taskID string) ([]*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Artifact, len(m.artifacts[taskID]))
	copy(out, m.artifacts[taskID])
	return out, nil
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *memStore) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	store := newMemStore()
	return New(store, log), store
}

func makeArtifact(taskID string, ordering int64) *models.Artifact {
	a := models.NewArtifact(taskID, models.ArtifactMessage)
	a.Ordering = ordering
	a.Content = "hello"
	return a
}

func TestEmit_PersistsBeforeDelivery(t *testing.T) {
	b, store := newTestBroadcaster(t)
	ctx := context.Background()

	require.NoError(t, b.Emit(ctx, makeArtifact("task-1", 1)))

	stored, err := store.ListArtifacts(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(1), stored[0].Ordering)
}

func TestEmit_PersistFailureAbortsDelivery(t *testing.T) {
	b, store := newTestBroadcaster(t)
	ctx := context.Background()

	_, live, cancel, err := b.Subscribe(ctx, "task-1")
	require.NoError(t, err)
	defer cancel()

	var sank []*models.Artifact
	b.RegisterSink(func(taskID string, a *models.Artifact) {
		sank = append(sank, a)
	})

	store.appendErr = errors.New("disk full")
	err = b.Emit(ctx, makeArtifact("task-1", 1))
	require.Error(t, err)

	assert.Empty(t, sank, "sinks must not see unpersisted artifacts")
	select {
	case a := <-live:
		t.Fatalf("subscriber received unpersisted artifact %v", a)
	default:
	}
}

func TestSubscribe_BacklogPlusLiveEqualsFullLog(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	require.NoError(t, b.Emit(ctx, makeArtifact("task-1", 1)))
	require.NoError(t, b.Emit(ctx, makeArtifact("task-1", 2)))

	backlog, live, cancel, err := b.Subscribe(ctx, "task-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Emit(ctx, makeArtifact("task-1", 3)))
	require.NoError(t, b.Emit(ctx, makeArtifact("task-1", 4)))

	var got []int64
	for _, a := range backlog {
		got = append(got, a.Ordering)
	}
	for len(got) < 4 {
		select {
		case a := <-live:
			got = append(got, a.Ordering)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for live artifacts, got %v", got)
		}
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, got)
}

func TestSubscribe_NoGapOrDuplicateUnderConcurrentEmits(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	const total = 200

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= total; i++ {
			_ = b.Emit(ctx, makeArtifact("task-1", int64(i)))
		}
	}()

	// Subscribe mid-stream; the snapshot boundary must be exact.
	time.Sleep(time.Millisecond)
	backlog, live, cancel, err := b.Subscribe(ctx, "task-1")
	require.NoError(t, err)
	defer cancel()
	<-done

	var got []int64
	for _, a := range backlog {
		got = append(got, a.Ordering)
	}
drain:
	for len(got) < total {
		select {
		case a, ok := <-live:
			if !ok {
				break drain
			}
			got = append(got, a.Ordering)
		case <-time.After(time.Second):
			break drain
		}
	}

	require.Len(t, got, total)
	for i, n := range got {
		assert.Equal(t, int64(i+1), n, "stream out of order at index %d", i)
	}
}

func TestEmit_SlowSubscriberDropped(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	_, live, cancel, err := b.Subscribe(ctx, "task-1")
	require.NoError(t, err)
	defer cancel()
	require.Equal(t, 1, b.SubscriberCount("task-1"))

	// One past the buffer overflows the never-drained channel.
	for i := 1; i <= subscriberBuffer+1; i++ {
		require.NoError(t, b.Emit(ctx, makeArtifact("task-1", int64(i))))
	}

	assert.Equal(t, 0, b.SubscriberCount("task-1"))

	// The dropped subscriber's channel is closed after the buffered items.
	var received int
	for range live {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestSubscribe_CancelIsIdempotent(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	_, _, cancel, err := b.Subscribe(context.Background(), "task-1")
	require.NoError(t, err)

	cancel()
	cancel()
	assert.Equal(t, 0, b.SubscriberCount("task-1"))
}

func TestRegisterSink_SeesEveryEmitInOrder(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	var got []int64
	b.RegisterSink(func(taskID string, a *models.Artifact) {
		got = append(got, a.Ordering)
	})

	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Emit(ctx, makeArtifact("task-1", int64(i))))
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}
