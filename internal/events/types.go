// Package events provides event types and utilities for the agentd event system.
package events

// Event types for tasks
const (
	TaskCreated       = "task.created"
	TaskStatusChanged = "task.status_changed"
)

// Event types for turns
const (
	TurnStarted     = "turn.started"
	TurnCompleted   = "turn.completed"
	TurnStopped     = "turn.stopped"
	TurnFailed      = "turn.failed"
	TurnInterrupted = "turn.interrupted"
)

// Event types for the artifact stream
const (
	TaskArtifact = "task.artifact" // Base subject for per-task artifact events
)

// BuildTaskArtifactSubject creates an artifact subject for a specific task
func BuildTaskArtifactSubject(taskID string) string {
	return TaskArtifact + "." + taskID
}

// BuildTaskArtifactWildcardSubject creates a wildcard subscription for all artifact events
func BuildTaskArtifactWildcardSubject() string {
	return TaskArtifact + ".*"
}

// BuildTaskStatusSubject creates a status subject for a specific task
func BuildTaskStatusSubject(taskID string) string {
	return TaskStatusChanged + "." + taskID
}

// BuildTaskStatusWildcardSubject creates a wildcard subscription for all status events
func BuildTaskStatusWildcardSubject() string {
	return TaskStatusChanged + ".*"
}
