package scripted

import (
	"context"
	"sync"

	"github.com/computeruse/agentd/internal/driver"
)

// StaticExecutor serves canned results by tool name and records every
// invocation. Unknown tools report an error result rather than failing the
// turn.
type StaticExecutor struct {
	mu      sync.Mutex
	results map[string]driver.ToolResult
	calls   []string
}

var _ driver.ToolExecutor = (*StaticExecutor)(nil)

// NewStaticExecutor creates an executor with the given results per tool name.
func NewStaticExecutor(results map[string]driver.ToolResult) *StaticExecutor {
	if results == nil {
		results = make(map[string]driver.ToolResult)
	}
	return &StaticExecutor{results: results}
}

// Execute returns the canned result for the tool.
func (e *StaticExecutor) Execute(ctx context.Context, taskID, name string, input map[string]interface{}) (driver.ToolResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	result, ok := e.results[name]
	e.mu.Unlock()

	if !ok {
		return driver.ToolResult{Error: "tool not available: " + name}, nil
	}
	return result, nil
}

// Calls returns the tool names executed so far, in order.
func (e *StaticExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}
