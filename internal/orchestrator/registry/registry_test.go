package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computeruse/agentd/internal/common/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	return New(log)
}

func TestRegister_SingleFlight(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Register("task-1")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, r.IsRunning("task-1"))

	_, err = r.Register("task-1")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRegister_DifferentTasksIndependent(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register("task-1")
	require.NoError(t, err)
	_, err = r.Register("task-2")
	require.NoError(t, err)

	assert.True(t, r.IsRunning("task-1"))
	assert.True(t, r.IsRunning("task-2"))
}

func TestRegisterPreempting_FlagsOldAndInstallsNew(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Register("task-1")
	require.NoError(t, err)
	assert.False(t, first.Interrupted())

	second, old := r.RegisterPreempting("task-1")
	require.NotNil(t, second)
	require.Same(t, first, old)

	assert.True(t, first.Interrupted(), "preempted handle must carry the interrupt flag")
	assert.False(t, second.Interrupted(), "fresh handle must start clean")
	assert.True(t, r.IsRunning("task-1"))
}

func TestRegisterPreempting_NoTurnRunning(t *testing.T) {
	r := newTestRegistry(t)

	h, old := r.RegisterPreempting("task-1")
	require.NotNil(t, h)
	assert.Nil(t, old)
	assert.True(t, r.IsRunning("task-1"))
}

func TestRequestStop(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Register("task-1")
	require.NoError(t, err)

	assert.True(t, r.RequestStop("task-1"))
	assert.True(t, h.Interrupted())

	// The handle stays registered until the turn exits on its own.
	assert.True(t, r.IsRunning("task-1"))
}

func TestRequestStop_NotRunning(t *testing.T) {
	r := newTestRegistry(t)
	assert.False(t, r.RequestStop("task-1"))
}

func TestRequestStop_Idempotent(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Register("task-1")
	require.NoError(t, err)

	assert.True(t, r.RequestStop("task-1"))
	assert.True(t, r.RequestStop("task-1"))
	assert.True(t, h.Interrupted())
}

func TestUnregister_RemovesOwnHandle(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Register("task-1")
	require.NoError(t, err)

	assert.True(t, r.Unregister("task-1", h))
	assert.False(t, r.IsRunning("task-1"))

	// A second unregister of the same handle is a no-op.
	assert.False(t, r.Unregister("task-1", h))
	assert.False(t, r.IsRunning("task-1"))
}

func TestUnregister_PreemptedHandleCannotRemoveSuccessor(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Register("task-1")
	require.NoError(t, err)

	second, old := r.RegisterPreempting("task-1")
	require.Same(t, first, old)

	// The old turn's cleanup runs after the new turn registered. It must
	// not tear down the new turn's registration, and the false return
	// tells the old turn it no longer owns the task.
	assert.False(t, r.Unregister("task-1", first))
	assert.True(t, r.IsRunning("task-1"))

	assert.True(t, r.Unregister("task-1", second))
	assert.False(t, r.IsRunning("task-1"))
}
