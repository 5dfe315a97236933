package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/computeruse/agentd/internal/common/errors"
	"github.com/computeruse/agentd/internal/task/models"
)

// Task operations

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

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, task.ID, task.Title, string(task.Status), task.CreatedAt, task.UpdatedAt)

	return err
}

// GetTask retrieves a task by ID
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task := &models.Task{}
	var status string
	err := r.ro.QueryRowContext(ctx, `
		SELECT id, title, status, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.Title, &status, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, title, status, created_at, updated_at
		FROM tasks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("task", id)
	}
	return nil
}
