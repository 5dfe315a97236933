package scripted

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computeruse/agentd/internal/driver"
)

// recorder captures callback invocations for assertions.
type recorder struct {
	blocks    []driver.ContentBlock
	results   []driver.ToolResult
	responses []driver.ProviderResponse
	outputErr error
}

func (r *recorder) callbacks() driver.Callbacks {
	return driver.Callbacks{
		OnOutput: func(ctx context.Context, block driver.ContentBlock) error {
			if r.outputErr != nil {
				return r.outputErr
			}
			r.blocks = append(r.blocks, block)
			return nil
		},
		OnToolResult: func(ctx context.Context, result driver.ToolResult, toolUseID string) error {
			r.results = append(r.results, result)
			return nil
		},
		OnProviderResponse: func(ctx context.Context, resp driver.ProviderResponse) {
			r.responses = append(r.responses, resp)
		},
	}
}

func TestDriver_TextSteps(t *testing.T) {
	d := New(Say("one"), Say("two"))
	rec := &recorder{}

	err := d.Run(context.Background(), driver.TurnContext{TaskID: "t1"}, NewStaticExecutor(nil), rec.callbacks())
	require.NoError(t, err)

	require.Len(t, rec.blocks, 2)
	assert.Equal(t, "one", rec.blocks[0].Text)
	assert.Equal(t, "assistant", rec.blocks[0].Role)
	require.Len(t, rec.responses, 1)
	assert.Equal(t, "end_turn", rec.responses[0].StopReason)
}

func TestDriver_ToolStep(t *testing.T) {
	exec := NewStaticExecutor(map[string]driver.ToolResult{
		"screenshot": {Output: "captured"},
	})
	d := New(Use("screenshot", map[string]interface{}{"display": 1}))
	rec := &recorder{}

	err := d.Run(context.Background(), driver.TurnContext{TaskID: "t1"}, exec, rec.callbacks())
	require.NoError(t, err)

	require.Len(t, rec.blocks, 1)
	assert.Equal(t, driver.BlockToolUse, rec.blocks[0].Type)
	assert.Equal(t, "screenshot", rec.blocks[0].ToolName)
	assert.NotEmpty(t, rec.blocks[0].ToolUseID)

	require.Len(t, rec.results, 1)
	assert.Equal(t, "captured", rec.results[0].Output)
	assert.Equal(t, []string{"screenshot"}, exec.Calls())
}

func TestDriver_ExecutorErrorBecomesToolResult(t *testing.T) {
	exec := &erroringExecutor{err: errors.New("sandbox crashed")}
	d := New(Use("click", nil), Say("after"))
	rec := &recorder{}

	err := d.Run(context.Background(), driver.TurnContext{TaskID: "t1"}, exec, rec.callbacks())
	require.NoError(t, err, "tool failure does not abort the script")

	require.Len(t, rec.results, 1)
	assert.Equal(t, "sandbox crashed", rec.results[0].Error)
	assert.Equal(t, "after", rec.blocks[len(rec.blocks)-1].Text)
}

func TestDriver_InterruptStopsScript(t *testing.T) {
	exec := &erroringExecutor{err: driver.ErrInterrupted}
	d := New(Use("click", nil), Say("never emitted"))
	rec := &recorder{}

	err := d.Run(context.Background(), driver.TurnContext{TaskID: "t1"}, exec, rec.callbacks())
	assert.ErrorIs(t, err, driver.ErrInterrupted)

	for _, b := range rec.blocks {
		assert.NotEqual(t, "never emitted", b.Text)
	}
	assert.Empty(t, rec.results)
}

func TestDriver_FailStep(t *testing.T) {
	cause := errors.New("rate limited")
	d := New(Say("before"), Fail(cause))
	rec := &recorder{}

	err := d.Run(context.Background(), driver.TurnContext{TaskID: "t1"}, NewStaticExecutor(nil), rec.callbacks())
	require.Error(t, err)

	var provErr *driver.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, rec.responses, "a failed turn has no provider response")
}

func TestEchoDriver_EchoesLastUserMessage(t *testing.T) {
	d := NewEcho()
	rec := &recorder{}
	turn := driver.TurnContext{
		TaskID: "t1",
		Blocks: []driver.ContentBlock{
			{Type: driver.BlockText, Role: "user", Text: "first"},
			{Type: driver.BlockText, Role: "assistant", Text: "Echo: first"},
			{Type: driver.BlockText, Role: "user", Text: "second"},
		},
	}

	err := d.Run(context.Background(), turn, NewStaticExecutor(nil), rec.callbacks())
	require.NoError(t, err)
	require.Len(t, rec.blocks, 1)
	assert.Equal(t, "Echo: second", rec.blocks[0].Text)
}

func TestEchoDriver_EmptyHistory(t *testing.T) {
	d := NewEcho()
	rec := &recorder{}

	err := d.Run(context.Background(), driver.TurnContext{TaskID: "t1"}, NewStaticExecutor(nil), rec.callbacks())
	require.NoError(t, err)
	require.Len(t, rec.blocks, 1)
	assert.Contains(t, rec.blocks[0].Text, "Send a message")
}

func TestStaticExecutor_UnknownTool(t *testing.T) {
	exec := NewStaticExecutor(nil)

	result, err := exec.Execute(context.Background(), "t1", "teleport", nil)
	require.NoError(t, err)
	assert.Contains(t, result.Error, "tool not available")
}

// erroringExecutor always fails with a fixed error.
type erroringExecutor struct {
	err error
}

func (e *erroringExecutor) Execute(ctx context.Context, taskID, name string, input map[string]interface{}) (driver.ToolResult, error) {
	return driver.ToolResult{}, e.err
}
