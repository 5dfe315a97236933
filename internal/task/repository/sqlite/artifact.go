package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/computeruse/agentd/internal/task/models"
)

// Artifact operations

// AppendArtifact inserts one artifact into the task's log. The (task_id,
// ordering) pair is unique, so a duplicate ordering fails the insert
// instead of silently reordering the log.
func (r *Repository) AppendArtifact(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	payloadJSON := "{}"
	if artifact.Payload != nil {
		payloadBytes, err := json.Marshal(artifact.Payload)
		if err != nil {
			return fmt.Errorf("failed to serialize artifact payload: %w", err)
		}
		payloadJSON = string(payloadBytes)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, task_id, type, ordering, role, content, kind, payload, url, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, artifact.ID, artifact.TaskID, string(artifact.Type), artifact.Ordering, artifact.Role,
		artifact.Content, artifact.Kind, payloadJSON, artifact.URL, artifact.Hash, artifact.CreatedAt)

	return err
}

// MaxOrdering returns the highest ordering persisted for a task, or 0 when
// the task has no artifacts yet.
func (r *Repository) MaxOrdering(ctx context.Context, taskID string) (int64, error) {
	var max int64
	err := r.ro.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(ordering), 0) FROM artifacts WHERE task_id = ?
	`, taskID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max, nil
}

// ListArtifacts returns all artifacts for a task in ordering order.
func (r *Repository) ListArtifacts(ctx context.Context, taskID string) ([]*models.Artifact, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, task_id, type, ordering, role, content, kind, payload, url, hash, created_at
		FROM artifacts WHERE task_id = ? ORDER BY ordering ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Artifact
	for rows.Next() {
		artifact := &models.Artifact{}
		var typ string
		var payloadJSON string
		err := rows.Scan(&artifact.ID, &artifact.TaskID, &typ, &artifact.Ordering, &artifact.Role,
			&artifact.Content, &artifact.Kind, &payloadJSON, &artifact.URL, &artifact.Hash, &artifact.CreatedAt)
		if err != nil {
			return nil, err
		}
		artifact.Type = models.ArtifactType(typ)

		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &artifact.Payload); err != nil {
				return nil, fmt.Errorf("failed to deserialize artifact payload: %w", err)
			}
		}

		result = append(result, artifact)
	}
	return result, rows.Err()
}
