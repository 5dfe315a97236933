// Package repository defines the persistence interfaces for tasks and
// their ordered artifact logs.
package repository

import (
	"context"

	"github.com/computeruse/agentd/internal/task/models"
)

// TaskStore persists tasks and their lifecycle status.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context) ([]*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.Status) error
}

// ArtifactStore is the append-only event log. Artifacts arrive with their
// ordering already assigned and are immutable once written.
type ArtifactStore interface {
	AppendArtifact(ctx context.Context, artifact *models.Artifact) error
	MaxOrdering(ctx context.Context, taskID string) (int64, error)
	ListArtifacts(ctx context.Context, taskID string) ([]*models.Artifact, error)
}

// Store combines task and artifact persistence behind one handle.
type Store interface {
	TaskStore
	ArtifactStore
	Close() error
}
