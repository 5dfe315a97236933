// Package orchestrator drives agent turns: it is the only writer of a
// task's artifact log and lifecycle status. Each turn translates the
// external driver's callbacks into persisted, broadcast artifacts, honors
// cooperative interruption at every checkpoint, and always reaches one of
// the terminal statuses.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/computeruse/agentd/internal/common/logger"
	"github.com/computeruse/agentd/internal/driver"
	"github.com/computeruse/agentd/internal/events"
	"github.com/computeruse/agentd/internal/events/bus"
	"github.com/computeruse/agentd/internal/media"
	"github.com/computeruse/agentd/internal/orchestrator/broadcast"
	"github.com/computeruse/agentd/internal/orchestrator/guard"
	"github.com/computeruse/agentd/internal/orchestrator/registry"
	"github.com/computeruse/agentd/internal/orchestrator/sequencer"
	"github.com/computeruse/agentd/internal/task/models"
	"github.com/computeruse/agentd/internal/task/repository"
)

const eventSource = "orchestrator"

// Orchestrator coordinates turns across all tasks.
type Orchestrator struct {
	store       repository.Store
	seq         *sequencer.Sequencer
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	media       *media.Store
	driver      driver.TurnDriver
	tools       driver.ToolExecutor
	eventBus    bus.EventBus
	logger      *logger.Logger

	// maxHistory caps how many prior artifacts are rendered into the
	// driver context. Zero means unlimited.
	maxHistory int
}

// Options configures optional orchestrator behavior.
type Options struct {
	MaxHistoryArtifacts int
}

// New wires an Orchestrator. The media store and event bus may be nil in
// tests; screenshots and bus notifications are skipped then.
func New(
	store repository.Store,
	seq *sequencer.Sequencer,
	reg *registry.Registry,
	bc *broadcast.Broadcaster,
	mediaStore *media.Store,
	turnDriver driver.TurnDriver,
	tools driver.ToolExecutor,
	eventBus bus.EventBus,
	log *logger.Logger,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		seq:         seq,
		registry:    reg,
		broadcaster: bc,
		media:       mediaStore,
		driver:      turnDriver,
		tools:       tools,
		eventBus:    eventBus,
		logger:      log,
		maxHistory:  opts.MaxHistoryArtifacts,
	}
}

// StartTurn accepts a new turn for the task. If a turn is already in
// flight its interrupt flag is raised and an interruption notice is
// emitted before the new turn registers; the old turn exits at its next
// checkpoint on its own. StartTurn returns once the turn is registered and
// active; the outcome is observable only through status and artifacts.
func (o *Orchestrator) StartTurn(ctx context.Context, taskID string) error {
	if _, err := o.store.GetTask(ctx, taskID); err != nil {
		return err
	}

	h, old := o.registry.RegisterPreempting(taskID)
	if old != nil {
		if err := o.emitNotice(ctx, taskID, models.ArtifactEvent, "interrupted", "Turn interrupted by a new message"); err != nil {
			o.logger.WithTaskID(taskID).WithError(err).Error("Failed to emit interruption notice")
		}
		o.publishBusEvent(ctx, events.TurnInterrupted, taskID, nil)
	}

	o.setStatus(context.WithoutCancel(ctx), taskID, models.StatusActive)
	o.publishBusEvent(ctx, events.TurnStarted, taskID, nil)

	go o.runTurn(taskID, h)
	return nil
}

// RequestStop raises the interrupt flag of the task's running turn.
// It returns false when nothing is running.
func (o *Orchestrator) RequestStop(taskID string) bool {
	return o.registry.RequestStop(taskID)
}

// IsRunning reports whether a turn is registered for the task.
func (o *Orchestrator) IsRunning(taskID string) bool {
	return o.registry.IsRunning(taskID)
}

// Subscribe returns the task's artifact backlog plus a live channel.
func (o *Orchestrator) Subscribe(ctx context.Context, taskID string) ([]*models.Artifact, <-chan *models.Artifact, func(), error) {
	return o.broadcaster.Subscribe(ctx, taskID)
}

// AppendUserMessage persists and broadcasts a user message artifact. It is
// the entry point the API uses before starting a turn, so subscribers see
// the user's message in the same ordered stream.
func (o *Orchestrator) AppendUserMessage(ctx context.Context, taskID, content string) (*models.Artifact, error) {
	ordering, err := o.seq.Next(ctx, taskID)
	if err != nil {
		return nil, err
	}
	artifact := models.NewArtifact(taskID, models.ArtifactMessage)
	artifact.Role = "user"
	artifact.Content = content
	artifact.Ordering = ordering
	if err := o.broadcaster.Emit(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// runTurn drives one turn to a terminal status. Errors never escape: the
// caller learns the outcome through status and artifacts only.
func (o *Orchestrator) runTurn(taskID string, h *registry.Handle) {
	ctx := context.Background()
	log := o.logger.WithTaskID(taskID)

	// A false Unregister means a preempting turn owns the task now. The
	// interruption notice was already emitted when it registered, so this
	// routine exits without writing terminal state of its own.
	finish := func() bool {
		if o.registry.Unregister(taskID, h) {
			return true
		}
		log.Debug("Preempted turn exiting quietly")
		return false
	}

	turn, err := o.buildTurnContext(ctx, taskID)
	if err != nil {
		if finish() {
			o.failTurn(ctx, taskID, fmt.Errorf("failed to load history: %w", err))
		}
		return
	}

	// A stop that lands before the first callback still ends in stopped,
	// never in a silently vanished turn.
	if h.Interrupted() {
		if finish() {
			o.stopTurn(ctx, taskID)
		}
		return
	}

	guarded := guard.New(o.tools, h, o.logger)
	cb := o.turnCallbacks(taskID, h)

	err = o.driver.Run(ctx, turn, guarded, cb)
	if !finish() {
		return
	}
	switch {
	case err == nil:
		o.completeTurn(ctx, taskID)
	case errors.Is(err, driver.ErrInterrupted):
		o.stopTurn(ctx, taskID)
	default:
		log.WithError(err).Error("Turn failed")
		o.failTurn(ctx, taskID, err)
	}
}

// turnCallbacks builds the three driver hooks for one turn. Every hook
// checks the interrupt flag before doing anything else: content produced
// after the flag was raised is never persisted, while artifacts already
// fully persisted stay.
func (o *Orchestrator) turnCallbacks(taskID string, h *registry.Handle) driver.Callbacks {
	log := o.logger.WithTaskID(taskID)
	toolRan := false

	onOutput := func(ctx context.Context, block driver.ContentBlock) error {
		if h.Interrupted() {
			return driver.ErrInterrupted
		}

		ordering, err := o.seq.Next(ctx, taskID)
		if err != nil {
			return err
		}

		var artifact *models.Artifact
		switch block.Type {
		case driver.BlockToolUse:
			artifact = models.NewArtifact(taskID, models.ArtifactEvent)
			artifact.Kind = "tool_use"
			artifact.Payload = map[string]interface{}{
				"name":        block.ToolName,
				"input":       block.ToolInput,
				"tool_use_id": block.ToolUseID,
			}
		default:
			artifact = models.NewArtifact(taskID, models.ArtifactMessage)
			artifact.Role = block.Role
			if artifact.Role == "" {
				artifact.Role = "assistant"
			}
			artifact.Content = block.Text
		}
		artifact.Ordering = ordering
		return o.broadcaster.Emit(ctx, artifact)
	}

	onToolResult := func(ctx context.Context, result driver.ToolResult, toolUseID string) error {
		if h.Interrupted() {
			return driver.ErrInterrupted
		}

		// First tool result flips the task from "thinking" to "acting".
		if !toolRan {
			toolRan = true
			o.setStatus(ctx, taskID, models.StatusRunning)
		}

		if result.Base64Image != "" && o.media != nil {
			ref, err := o.media.SavePNG(result.Base64Image)
			if err != nil {
				log.WithError(err).Error("Failed to store screenshot")
			} else {
				ordering, err := o.seq.Next(ctx, taskID)
				if err != nil {
					return err
				}
				shot := models.NewArtifact(taskID, models.ArtifactScreenshot)
				shot.URL = ref.URL
				shot.Hash = ref.Hash
				shot.Ordering = ordering
				if err := o.broadcaster.Emit(ctx, shot); err != nil {
					return err
				}
			}
		}

		ordering, err := o.seq.Next(ctx, taskID)
		if err != nil {
			return err
		}
		event := models.NewArtifact(taskID, models.ArtifactEvent)
		event.Kind = "tool_result"
		event.Payload = map[string]interface{}{
			"tool_use_id": toolUseID,
			"output":      result.Output,
		}
		if result.Error != "" {
			event.Payload["error"] = result.Error
		}
		event.Ordering = ordering
		if err := o.broadcaster.Emit(ctx, event); err != nil {
			return err
		}

		if result.Output != "" {
			ordering, err := o.seq.Next(ctx, taskID)
			if err != nil {
				return err
			}
			text := models.NewArtifact(taskID, models.ArtifactToolResult)
			text.Content = result.Output
			text.Ordering = ordering
			if err := o.broadcaster.Emit(ctx, text); err != nil {
				return err
			}
		}

		return nil
	}

	onProviderResponse := func(ctx context.Context, resp driver.ProviderResponse) {
		// Diagnostic only; never aborts the turn.
		log.Debug("Provider response",
			zap.String("response_id", resp.ID),
			zap.String("model", resp.Model),
			zap.String("stop_reason", resp.StopReason))
	}

	return driver.Callbacks{
		OnOutput:           onOutput,
		OnToolResult:       onToolResult,
		OnProviderResponse: onProviderResponse,
	}
}

// buildTurnContext loads the task's full artifact history in ordering
// order and renders it into driver content blocks. Screenshots are
// referenced by URL; other media by name only.
func (o *Orchestrator) buildTurnContext(ctx context.Context, taskID string) (driver.TurnContext, error) {
	artifacts, err := o.store.ListArtifacts(ctx, taskID)
	if err != nil {
		return driver.TurnContext{}, err
	}
	if o.maxHistory > 0 && len(artifacts) > o.maxHistory {
		artifacts = artifacts[len(artifacts)-o.maxHistory:]
	}

	blocks := make([]driver.ContentBlock, 0, len(artifacts))
	for _, a := range artifacts {
		switch a.Type {
		case models.ArtifactMessage:
			blocks = append(blocks, driver.ContentBlock{
				Type: driver.BlockText,
				Role: a.Role,
				Text: a.Content,
			})
		case models.ArtifactToolResult:
			blocks = append(blocks, driver.ContentBlock{
				Type: driver.BlockText,
				Role: "tool",
				Text: a.Content,
			})
		case models.ArtifactScreenshot:
			blocks = append(blocks, driver.ContentBlock{
				Type:      driver.BlockMedia,
				MediaURL:  a.URL,
				MediaName: a.Hash,
			})
		}
		// Completion, stop and error notices are lifecycle records, not
		// driver input.
	}

	return driver.TurnContext{TaskID: taskID, Blocks: blocks}, nil
}

func (o *Orchestrator) completeTurn(ctx context.Context, taskID string) {
	if err := o.emitNotice(ctx, taskID, models.ArtifactCompletion, "", "Turn completed"); err != nil {
		o.logger.WithTaskID(taskID).WithError(err).Error("Failed to emit completion artifact")
	}
	o.setStatus(ctx, taskID, models.StatusCompleted)
	o.publishBusEvent(ctx, events.TurnCompleted, taskID, nil)
}

// stopTurn records an interrupted turn. Interruption is expected control
// flow, so it is logged at info and never surfaces as a failure.
func (o *Orchestrator) stopTurn(ctx context.Context, taskID string) {
	o.logger.WithTaskID(taskID).Info("Turn stopped")
	if err := o.emitNotice(ctx, taskID, models.ArtifactEvent, "stopped", "Turn stopped"); err != nil {
		o.logger.WithTaskID(taskID).WithError(err).Error("Failed to emit stop notice")
	}
	o.setStatus(ctx, taskID, models.StatusStopped)
	o.publishBusEvent(ctx, events.TurnStopped, taskID, nil)
}

func (o *Orchestrator) failTurn(ctx context.Context, taskID string, cause error) {
	if err := o.emitNotice(ctx, taskID, models.ArtifactError, "", cause.Error()); err != nil {
		o.logger.WithTaskID(taskID).WithError(err).Error("Failed to emit error artifact")
	}
	o.setStatus(ctx, taskID, models.StatusFailed)
	o.publishBusEvent(ctx, events.TurnFailed, taskID, map[string]interface{}{"error": cause.Error()})
}

// emitNotice appends one lifecycle artifact with ordering assigned normally.
func (o *Orchestrator) emitNotice(ctx context.Context, taskID string, typ models.ArtifactType, kind, content string) error {
	ordering, err := o.seq.Next(ctx, taskID)
	if err != nil {
		return err
	}
	artifact := models.NewArtifact(taskID, typ)
	artifact.Kind = kind
	artifact.Content = content
	artifact.Ordering = ordering
	return o.broadcaster.Emit(ctx, artifact)
}

func (o *Orchestrator) setStatus(ctx context.Context, taskID string, status models.Status) {
	if err := o.store.UpdateTaskStatus(ctx, taskID, status); err != nil {
		o.logger.WithTaskID(taskID).WithError(err).Error("Failed to update task status",
			zap.String("status", string(status)))
		return
	}
	o.publishBusEvent(ctx, events.TaskStatusChanged, taskID, map[string]interface{}{
		"status": string(status),
	})
}

func (o *Orchestrator) publishBusEvent(ctx context.Context, eventType, taskID string, data map[string]interface{}) {
	if o.eventBus == nil {
		return
	}
	if data == nil {
		data = make(map[string]interface{})
	}
	data["task_id"] = taskID

	subject := eventType + "." + taskID
	if eventType == events.TaskStatusChanged {
		subject = events.BuildTaskStatusSubject(taskID)
	}
	if err := o.eventBus.Publish(ctx, subject, bus.NewEvent(eventType, eventSource, data)); err != nil {
		o.logger.WithTaskID(taskID).WithError(err).Warn("Failed to publish bus event",
			zap.String("event_type", eventType))
	}
}
