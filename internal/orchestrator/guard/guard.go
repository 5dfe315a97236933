// Package guard wraps a tool executor with interrupt checkpoints around
// each individual tool invocation.
package guard

import (
	"context"

	"go.uber.org/zap"

	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/driver"
	"github.com/computeruse/agentd/internal/orchestrator/registry"
)

// Guard intercepts every tool call of one turn. The flag is checked
// immediately before execution, so a stop issued while several tool calls
// are queued does not let them all run, and immediately after, because the
// stop may arrive while a tool is executing. Tool execution itself is not
// preemptible; interruption is always checkpointed.
type Guard struct {
	exec   driver.ToolExecutor
	handle *registry.Handle
	logger *logger.Logger
}

var _ driver.ToolExecutor = (*Guard)(nil)

// New wraps the executor for the turn owning the given handle.
func New(exec driver.ToolExecutor, handle *registry.Handle, log *logger.Logger) *Guard {
	return &Guard{exec: exec, handle: handle, logger: log}
}

// Execute runs one tool with interrupt checks before and after. When the
// flag is raised during execution, the tool's result is still returned for
// bookkeeping, together with driver.ErrInterrupted so the caller stops
// scheduling further tools.
func (g *Guard) Execute(ctx context.Context, taskID, name string, input map[string]interface{}) (driver.ToolResult, error) {
	if g.handle.Interrupted() {
		g.logger.WithTaskID(taskID).Debug("Tool call skipped after stop request",
			zap.String("tool", name))
		return driver.ToolResult{}, driver.ErrInterrupted
	}

	result, err := g.exec.Execute(ctx, taskID, name, input)
	if err != nil {
		return result, err
	}

	if g.handle.Interrupted() {
		g.logger.WithTaskID(taskID).Debug("Stop requested during tool execution",
			zap.String("tool", name))
		return result, driver.ErrInterrupted
	}

	return result, nil
}
