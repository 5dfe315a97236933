// Package sqlite provides SQLite-based repository implementations.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	commonsqlite "github.com/computeruse/agentd/internal/common/sqlite"
	"github.com/computeruse/agentd/internal/task/repository"
)

// Repository provides SQLite-based task and artifact storage.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader (read-only pool)
	ownsDB bool
}

var _ repository.Store = (*Repository)(nil)

// New opens the database at the given path and initializes the schema.
func New(dbPath string) (*Repository, error) {
	writer, err := commonsqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	reader, err := commonsqlite.OpenReader(dbPath)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return newRepository(writer, reader, true)
}

// NewWithDB creates a repository with existing database connections (shared ownership).
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	return newRepository(writer, reader, false)
}

func newRepository(writer, reader *sqlx.DB, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			_ = writer.Close()
			_ = reader.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connections
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	if err := r.db.Close(); err != nil {
		return err
	}
	return r.ro.Close()
}

// DB returns the underlying sql.DB instance for shared access
func (r *Repository) DB() *sql.DB {
	return r.db.DB
}

// initSchema creates the database tables if they don't exist
func (r *Repository) initSchema() error {
	if err := r.initTaskSchema(); err != nil {
		return err
	}
	if err := r.initArtifactSchema(); err != nil {
		return err
	}
	if err := r.runMigrations(); err != nil {
		return err
	}
	return r.ensureIndexes()
}

func (r *Repository) initTaskSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`)
	return err
}

func (r *Repository) initArtifactSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		type TEXT NOT NULL,
		ordering INTEGER NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '{}',
		url TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE(task_id, ordering),
		FOREIGN KEY(task_id) REFERENCES tasks(id)
	);`)
	return err
}

// runMigrations applies idempotent ALTER TABLE migrations for schema evolution.
func (r *Repository) runMigrations() error {
	if err := commonsqlite.EnsureColumn(r.db.DB, "artifacts", "url", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return commonsqlite.EnsureColumn(r.db.DB, "artifacts", "hash", "TEXT NOT NULL DEFAULT ''")
}

func (r *Repository) ensureIndexes() error {
	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_artifacts_task_id ON artifacts(task_id)`); err != nil {
		return err
	}
	_, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_artifacts_task_ordering ON artifacts(task_id, ordering)`)
	return err
}
