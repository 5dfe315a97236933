// Package sequencer hands out the next ordering value for each task's
// artifact log.
package sequencer

import (
	"context"
	"fmt"
	"sync"

	"github.com/computeruse/agentd/internal/task/repository"
)

// Sequencer is the single source of truth for the next ordering value of a
// task. The first request for a task after process start is seeded from the
// durable log's current maximum, so values never repeat across restarts.
type Sequencer struct {
	mu    sync.Mutex
	next  map[string]int64
	store repository.ArtifactStore
}

// New creates a Sequencer backed by the given artifact store.
func New(store repository.ArtifactStore) *Sequencer {
	return &Sequencer{
		next:  make(map[string]int64),
		store: store,
	}
}

// Next returns the next strictly increasing ordering value for the task.
func (s *Sequencer) Next(ctx context.Context, taskID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.next[taskID]
	if !ok {
		max, err := s.store.MaxOrdering(ctx, taskID)
		if err != nil {
			return 0, fmt.Errorf("failed to seed ordering for task %s: %w", taskID, err)
		}
		n = max + 1
	}
	s.next[taskID] = n + 1
	return n, nil
}

// Forget drops the in-memory counter for a task. The next call to Next
// re-seeds from the store.
func (s *Sequencer) Forget(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, taskID)
}
