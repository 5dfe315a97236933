// Package models defines the task and artifact types shared across the service.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a task.
type Status string

const (
	// StatusIdle means no turn has been accepted yet.
	StatusIdle Status = "idle"
	// StatusActive means a turn has been accepted and history is being loaded.
	StatusActive Status = "active"
	// StatusRunning means at least one tool has executed in the current turn.
	StatusRunning Status = "running"
	// StatusCompleted means the last turn finished normally.
	StatusCompleted Status = "completed"
	// StatusFailed means the last turn aborted on an error.
	StatusFailed Status = "failed"
	// StatusStopped means the last turn was interrupted by a stop request.
	StatusStopped Status = "stopped"
)

// IsTerminal reports whether the status ends a turn. A new turn may start
// from any terminal status (and from idle).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Task is a unit of work that accumulates an ordered artifact log.
type Task struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewTask creates a task in the idle status.
func NewTask(title string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ArtifactType discriminates the artifact wire shape.
type ArtifactType string

const (
	ArtifactMessage    ArtifactType = "message"
	ArtifactEvent      ArtifactType = "event"
	ArtifactScreenshot ArtifactType = "screenshot"
	ArtifactToolResult ArtifactType = "tool_result"
	ArtifactCompletion ArtifactType = "completion"
	ArtifactError      ArtifactType = "error"
)

// Artifact is one ordered, immutable unit of turn output. Role and Content
// are set for messages, Kind and Payload for tool events, URL and Hash for
// screenshots. Within a task, Ordering is strictly increasing with no gaps
// or reuse across the task's lifetime.
type Artifact struct {
	ID        string                 `json:"id" db:"id"`
	TaskID    string                 `json:"task_id" db:"task_id"`
	Type      ArtifactType           `json:"type" db:"type"`
	Ordering  int64                  `json:"ordering" db:"ordering"`
	Role      string                 `json:"role,omitempty" db:"role"`
	Content   string                 `json:"content,omitempty" db:"content"`
	Kind      string                 `json:"kind,omitempty" db:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty" db:"-"`
	URL       string                 `json:"url,omitempty" db:"url"`
	Hash      string                 `json:"hash,omitempty" db:"hash"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// NewArtifact creates an artifact without an ordering assigned yet.
func NewArtifact(taskID string, typ ArtifactType) *Artifact {
	return &Artifact{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
}
