// Package scripted provides deterministic turn drivers for development and
// tests.
package scripted

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/computeruse/agentd/internal/driver"
)

// ToolCall describes one scripted tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// Step is one scripted action: emit text, invoke a tool, or fail the turn.
type Step struct {
	Text string
	Tool *ToolCall
	Err  error
}

// Say builds a text output step.
func Say(text string) Step {
	return Step{Text: text}
}

// Use builds a tool invocation step.
func Use(name string, input map[string]interface{}) Step {
	return Step{Tool: &ToolCall{Name: name, Input: input}}
}

// Fail builds a step that aborts the turn with a provider error.
func Fail(err error) Step {
	return Step{Err: err}
}

// Driver replays a fixed list of steps through the turn callbacks.
type Driver struct {
	steps []Step
}

var _ driver.TurnDriver = (*Driver)(nil)

// New creates a scripted driver.
func New(steps ...Step) *Driver {
	return &Driver{steps: steps}
}

// Run executes the script. Tool failures are reported through the result's
// Error field and the script continues; interruption from a callback or the
// executor stops the script immediately.
func (d *Driver) Run(ctx context.Context, turn driver.TurnContext, exec driver.ToolExecutor, cb driver.Callbacks) error {
	for _, step := range d.steps {
		switch {
		case step.Err != nil:
			return &driver.ProviderError{Err: step.Err}

		case step.Tool != nil:
			id := step.Tool.ID
			if id == "" {
				id = uuid.New().String()
			}
			if err := cb.OnOutput(ctx, driver.ContentBlock{
				Type:      driver.BlockToolUse,
				ToolName:  step.Tool.Name,
				ToolUseID: id,
				ToolInput: step.Tool.Input,
			}); err != nil {
				return err
			}

			result, err := exec.Execute(ctx, turn.TaskID, step.Tool.Name, step.Tool.Input)
			if err != nil {
				if errors.Is(err, driver.ErrInterrupted) {
					return err
				}
				result = driver.ToolResult{Error: err.Error()}
			}
			if err := cb.OnToolResult(ctx, result, id); err != nil {
				return err
			}

		case step.Text != "":
			if err := cb.OnOutput(ctx, driver.ContentBlock{
				Type: driver.BlockText,
				Role: "assistant",
				Text: step.Text,
			}); err != nil {
				return err
			}
		}
	}

	if cb.OnProviderResponse != nil {
		cb.OnProviderResponse(ctx, driver.ProviderResponse{
			ID:         uuid.New().String(),
			Model:      "scripted",
			StopReason: "end_turn",
		})
	}
	return nil
}

// EchoDriver answers every turn by echoing the last user message. It is
// the development driver the binary wires in by default.
type EchoDriver struct{}

var _ driver.TurnDriver = (*EchoDriver)(nil)

// NewEcho creates an EchoDriver.
func NewEcho() *EchoDriver {
	return &EchoDriver{}
}

// Run emits one text block echoing the most recent user text block, or a
// greeting when the task has no user content yet.
func (d *EchoDriver) Run(ctx context.Context, turn driver.TurnContext, exec driver.ToolExecutor, cb driver.Callbacks) error {
	reply := "Hello. Send a message to get started."
	for i := len(turn.Blocks) - 1; i >= 0; i-- {
		b := turn.Blocks[i]
		if b.Type == driver.BlockText && b.Role == "user" {
			reply = "Echo: " + b.Text
			break
		}
	}

	if err := cb.OnOutput(ctx, driver.ContentBlock{
		Type: driver.BlockText,
		Role: "assistant",
		Text: reply,
	}); err != nil {
		return err
	}

	if cb.OnProviderResponse != nil {
		cb.OnProviderResponse(ctx, driver.ProviderResponse{
			ID:         uuid.New().String(),
			Model:      "echo",
			StopReason: "end_turn",
		})
	}
	return nil
}
