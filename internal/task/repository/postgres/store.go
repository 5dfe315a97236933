// Package postgres provides a PostgreSQL-backed repository implementation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/computeruse/agentd/internal/common/database"
	apperrors "github.com/computeruse/agentd/internal/common/errors"
	"github.com/computeruse/agentd/internal/task/models"
	"github.com/computeruse/agentd/internal/task/repository"
)

// Repository provides PostgreSQL-based task and artifact storage.
type Repository struct {
	db *database.DB
}

var _ repository.Store = (*Repository)(nil)

// New creates a repository on top of an existing connection pool and
// initializes the schema.
func New(ctx context.Context, db *database.DB) (*Repository, error) {
	repo := &Repository{db: db}
	if err := repo.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (r *Repository) Close() error {
	return nil
}

func (r *Repository) initSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		type TEXT NOT NULL,
		ordering BIGINT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL DEFAULT '{}',
		url TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(task_id, ordering)
	)`)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_artifacts_task_ordering ON artifacts(task_id, ordering)`)
	return err
}

// CreateTask creates a new task
func (r *Repository) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	if task.Status == "" {
		task.Status = models.StatusIdle
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO tasks (id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, task.ID, task.Title, string(task.Status), task.CreatedAt, task.UpdatedAt)
	return err
}

// GetTask retrieves a task by ID
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task := &models.Task{}
	var status string
	err := r.db.QueryRow(ctx, `
		SELECT id, title, status, created_at, updated_at FROM tasks WHERE id = $1
	`, id).Scan(&task.ID, &task.Title, &status, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	task.Status = models.Status(status)
	return task, nil
}

// ListTasks returns all tasks ordered by creation time, newest first.
func (r *Repository) ListTasks(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, title, status, created_at, updated_at FROM tasks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Task
	for rows.Next() {
		task := &models.Task{}
		var status string
		if err := rows.Scan(&task.ID, &task.Title, &status, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, err
		}
		task.Status = models.Status(status)
		result = append(result, task)
	}
	return result, rows.Err()
}

// UpdateTaskStatus sets the lifecycle status of a task.
func (r *Repository) UpdateTaskStatus(ctx context.Context, id string, status models.Status) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("task", id)
	}
	return nil
}

// AppendArtifact inserts one artifact into the task's log.
func (r *Repository) AppendArtifact(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	payloadJSON := []byte("{}")
	if artifact.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(artifact.Payload)
		if err != nil {
			return fmt.Errorf("failed to serialize artifact payload: %w", err)
		}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO artifacts (id, task_id, type, ordering, role, content, kind, payload, url, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, artifact.ID, artifact.TaskID, string(artifact.Type), artifact.Ordering, artifact.Role,
		artifact.Content, artifact.Kind, payloadJSON, artifact.URL, artifact.Hash, artifact.CreatedAt)
	return err
}

// MaxOrdering returns the highest ordering persisted for a task, or 0 when
// the task has no artifacts yet.
func (r *Repository) MaxOrdering(ctx context.Context, taskID string) (int64, error) {
	var max int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(ordering), 0) FROM artifacts WHERE task_id = $1
	`, taskID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max, nil
}

// ListArtifacts returns all artifacts for a task in ordering order.
func (r *Repository) ListArtifacts(ctx context.Context, taskID string) ([]*models.Artifact, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, task_id, type, ordering, role, content, kind, payload, url, hash, created_at
		FROM artifacts WHERE task_id = $1 ORDER BY ordering ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Artifact
	for rows.Next() {
		artifact := &models.Artifact{}
		var typ string
		var payloadJSON []byte
		err := rows.Scan(&artifact.ID, &artifact.TaskID, &typ, &artifact.Ordering, &artifact.Role,
			&artifact.Content, &artifact.Kind, &payloadJSON, &artifact.URL, &artifact.Hash, &artifact.CreatedAt)
		if err != nil {
			return nil, err
		}
		artifact.Type = models.ArtifactType(typ)

		if len(payloadJSON) > 0 && string(payloadJSON) != "{}" {
			if err := json.Unmarshal(payloadJSON, &artifact.Payload); err != nil {
				return nil, fmt.Errorf("failed to deserialize artifact payload: %w", err)
			}
		}

		result = append(result, artifact)
	}
	return result, rows.Err()
}
