// Package broadcast delivers newly persisted artifacts to live subscribers
// while keeping the durable log authoritative.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/task/models"
	"github.com/computeruse/agentd/internal/task/repository"
)

// subscriberBuffer bounds each live channel. A subscriber that falls this
// far behind is dropped rather than back-pressuring the producing turn.
const subscriberBuffer = 256

// Sink receives every emitted artifact for side delivery (websocket hub,
// event bus). Sinks must not block; they run under the task's emit lock
// and see artifacts in exact ordering order.
type Sink func(taskID string, artifact *models.Artifact)

type subscriber struct {
	id string
	ch chan *models.Artifact
}

// taskStream holds the live subscribers of one task. Its mutex serializes
// emit and subscribe for that task, which is what makes subscribe an atomic
// snapshot-plus-attach with respect to concurrent emits.
type taskStream struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

// Broadcaster owns the persist-then-fan-out path for artifacts. Append and
// delivery happen under one per-task lock, so a subscriber's backlog plus
// its live channel always equals the full ordered log with no gap or
// duplicate, regardless of when it subscribed.
type Broadcaster struct {
	store  repository.ArtifactStore
	logger *logger.Logger

	mu      sync.Mutex
	streams map[string]*taskStream

	sinkMu sync.RWMutex
	sinks  []Sink
}

// New creates a Broadcaster on top of the artifact store. A nil log falls
// back to the process default logger.
func New(store repository.ArtifactStore, log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.Default()
	}
	return &Broadcaster{
		store:   store,
		logger:  log,
		streams: make(map[string]*taskStream),
	}
}

// RegisterSink adds a side-delivery sink. Sinks registered after emits have
// begun only see subsequent artifacts.
func (b *Broadcaster) RegisterSink(sink Sink) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.sinks = append(b.sinks, sink)
}

func (b *Broadcaster) stream(taskID string) *taskStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.streams[taskID]
	if !ok {
		ts = &taskStream{subs: make(map[string]*subscriber)}
		b.streams[taskID] = ts
	}
	return ts
}

// Emit durably appends the artifact, then delivers it to every live
// subscriber of its task and to all sinks. Persistence failure aborts
// before any delivery: nothing is broadcast that was not written.
// Delivery is non-blocking; a subscriber with a full buffer is closed and
// removed.
func (b *Broadcaster) Emit(ctx context.Context, artifact *models.Artifact) error {
	ts := b.stream(artifact.TaskID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if err := b.store.AppendArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("failed to persist artifact: %w", err)
	}

	for id, sub := range ts.subs {
		select {
		case sub.ch <- artifact:
		default:
			b.logger.WithTaskID(artifact.TaskID).Warn("Dropping slow subscriber",
				zap.String("subscriber_id", id))
			close(sub.ch)
			delete(ts.subs, id)
		}
	}

	b.sinkMu.RLock()
	sinks := b.sinks
	b.sinkMu.RUnlock()
	for _, sink := range sinks {
		sink(artifact.TaskID, artifact)
	}

	b.logger.WithTaskID(artifact.TaskID).Debug("Artifact emitted",
		zap.String("type", string(artifact.Type)),
		zap.Int64("ordering", artifact.Ordering))

	return nil
}

// Subscribe returns the task's full backlog and a live channel carrying
// every artifact emitted after the snapshot. The returned cancel func is
// idempotent and releases the channel.
func (b *Broadcaster) Subscribe(ctx context.Context, taskID string) ([]*models.Artifact, <-chan *models.Artifact, func(), error) {
	ts := b.stream(taskID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	backlog, err := b.store.ListArtifacts(ctx, taskID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load backlog: %w", err)
	}

	sub := &subscriber{
		id: uuid.New().String(),
		ch: make(chan *models.Artifact, subscriberBuffer),
	}
	ts.subs[sub.id] = sub

	cancel := func() {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		if current, ok := ts.subs[sub.id]; ok && current == sub {
			close(sub.ch)
			delete(ts.subs, sub.id)
		}
	}

	return backlog, sub.ch, cancel, nil
}

// SubscriberCount returns the number of live subscribers for a task.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.Lock()
	ts, ok := b.streams[taskID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.subs)
}
