// Package registry enforces the single-flight invariant: at most one turn
// executes per task, and a stop request reaches the turn that owns it.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/computeruse/agentd/internal/common/logger"
)

// ErrAlreadyRunning is returned by Register when a handle already exists
// for the task. Callers that intend preemption use RegisterPreempting.
var ErrAlreadyRunning = errors.New("a turn is already running for this task")

// Handle is the in-memory run state of one turn. It is created when the
// turn registers and discarded when the turn's routine exits.
type Handle struct {
	TaskID    string
	StartedAt time.Time

	interrupted atomic.Bool
}

// Interrupt raises the interrupt flag. The owning turn observes it at its
// next checkpoint; interruption is never forced.
func (h *Handle) Interrupt() {
	h.interrupted.Store(true)
}

// Interrupted reports whether a stop has been requested for this turn.
func (h *Handle) Interrupted() bool {
	return h.interrupted.Load()
}

// Registry tracks the live Handle per task behind one mutex. Entries are
// created on register and deleted on unregister, so the map never grows
// beyond the set of currently running turns.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	logger  *logger.Logger
}

// New creates an empty Registry. A nil log falls back to the process
// default logger.
func New(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		handles: make(map[string]*Handle),
		logger:  log,
	}
}

// Register creates a Handle for the task. It fails with ErrAlreadyRunning
// if one exists; that indicates a caller bypassed preemption, not a normal
// user scenario.
func (r *Registry) Register(taskID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[taskID]; ok {
		return nil, ErrAlreadyRunning
	}
	h := &Handle{TaskID: taskID, StartedAt: time.Now().UTC()}
	r.handles[taskID] = h
	return h, nil
}

// RegisterPreempting atomically flags any existing handle and installs a
// fresh one. It returns the new handle and the preempted one (nil when the
// task was not running). The old turn keeps its own handle pointer and
// exits at its next checkpoint; it cannot unregister the new handle because
// Unregister compares identity.
func (r *Registry) RegisterPreempting(taskID string) (*Handle, *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.handles[taskID]
	if old != nil {
		old.Interrupt()
		r.logger.WithTaskID(taskID).Info("Preempting in-flight turn")
	}
	h := &Handle{TaskID: taskID, StartedAt: time.Now().UTC()}
	r.handles[taskID] = h
	return h, old
}

// RequestStop raises the interrupt flag for the task's running turn.
// It returns false when no turn is running.
func (r *Registry) RequestStop(taskID string) bool {
	r.mu.Lock()
	h := r.handles[taskID]
	r.mu.Unlock()

	if h == nil {
		return false
	}
	h.Interrupt()
	r.logger.WithTaskID(taskID).Info("Stop requested", zap.Time("turn_started_at", h.StartedAt))
	return true
}

// Unregister removes the handle if it is still the one registered for the
// task and reports whether it was. A false return means the handle was
// absent or superseded by a preempting turn; the caller must not write
// terminal task state in that case, since the task belongs to the
// replacement turn now.
func (r *Registry) Unregister(taskID string, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.handles[taskID]; ok && current == h {
		delete(r.handles, taskID)
		return true
	}
	return false
}

// IsRunning reports whether a turn is registered for the task.
func (r *Registry) IsRunning(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[taskID]
	return ok
}
