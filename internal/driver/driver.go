// Package driver defines the contracts between the orchestrator and the
// external turn driver and tool executor. The orchestrator treats both as
// opaque collaborators: it supplies callbacks and a tool executor, the
// driver runs one model/tool exchange until it naturally ends or fails.
package driver

import (
	"context"
	"errors"
	"fmt"
)

// ErrInterrupted signals cooperative interruption of a turn. It is control
// flow, not a failure: a turn ending with it reaches the stopped status.
var ErrInterrupted = errors.New("turn interrupted")

// BlockType discriminates content blocks exchanged with the driver.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
	BlockMedia   BlockType = "media"
)

// ContentBlock is one unit of driver input or output.
type ContentBlock struct {
	Type      BlockType              `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Role      string                 `json:"role,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	ToolInput map[string]interface{} `json:"tool_input,omitempty"`
	MediaURL  string                 `json:"media_url,omitempty"`
	MediaName string                 `json:"media_name,omitempty"`
}

// ToolResult is the outcome of one tool invocation. A failed tool reports
// its failure in Error rather than aborting the turn.
type ToolResult struct {
	Output      string `json:"output,omitempty"`
	Base64Image string `json:"base64_image,omitempty"`
	Error       string `json:"error,omitempty"`
	System      string `json:"system,omitempty"`
}

// ProviderResponse carries diagnostic metadata about one model call.
// Delivery is best effort; nothing is persisted from it.
type ProviderResponse struct {
	ID         string `json:"id,omitempty"`
	Model      string `json:"model,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Callbacks are the hooks a TurnDriver fires while running a turn. OnOutput
// and OnToolResult may return ErrInterrupted, which the driver must
// propagate without firing further callbacks or scheduling further tools.
type Callbacks struct {
	OnOutput           func(ctx context.Context, block ContentBlock) error
	OnToolResult       func(ctx context.Context, result ToolResult, toolUseID string) error
	OnProviderResponse func(ctx context.Context, resp ProviderResponse)
}

// TurnContext is the reconstructed input for one turn.
type TurnContext struct {
	TaskID string
	Blocks []ContentBlock
}

// TurnDriver runs one full agent turn. Tool invocations must go through
// the supplied executor so interruption checks apply to each call.
type TurnDriver interface {
	Run(ctx context.Context, turn TurnContext, exec ToolExecutor, cb Callbacks) error
}

// ToolExecutor runs a single named tool. Tool-level failures are reported
// in ToolResult.Error; a returned error means the call did not run or the
// turn must stop.
type ToolExecutor interface {
	Execute(ctx context.Context, taskID, name string, input map[string]interface{}) (ToolResult, error)
}

// ProviderError wraps a model-provider failure. It aborts the turn and
// surfaces as a failed status plus an error artifact.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
