package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

// TaskRepository keeps the durable history of tasks and their artifacts.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool.
func NewRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Record implements the engine recorder by saving every status change.
func (r *TaskRepository) Record(ctx context.Context, task *domain.Task) error {
	return r.Save(ctx, task)
}

// Save upserts the task row and, for a completed task, replaces its
// artifacts in the same transaction. A stored terminal row is never
// overwritten.
func (r *TaskRepository) Save(ctx context.Context, task *domain.Task) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save task %s: %w", task.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO media_tasks
			(id, kind, status, error, error_kind, created_at, updated_at, completed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			error        = EXCLUDED.error,
			error_kind   = EXCLUDED.error_kind,
			updated_at   = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
		WHERE media_tasks.status NOT IN ('COMPLETED', 'FAILED')
	`,
		task.ID, task.Kind, string(task.Status), task.Error, string(task.ErrorKind),
		task.CreatedAt, task.UpdatedAt, task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}

	if tag.RowsAffected() > 0 && task.Status == domain.StatusCompleted && task.Result != nil {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM media_artifacts WHERE task_id = $1`, task.ID)
		for _, a := range task.Result.Artifacts {
			batch.Queue(`
				INSERT INTO media_artifacts
					(task_id, idx, remote_url, local_path, bytes, sha256, thumbnail)
				VALUES
					($1, $2, $3, $4, $5, $6, $7)
			`, task.ID, a.Index, a.RemoteURL, a.LocalPath, a.Bytes, a.SHA256, a.Thumbnail)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save artifacts for task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit task %s: %w", task.ID, err)
	}
	return nil
}

// GetByID returns the task with its artifacts.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, kind, status, error, error_kind, created_at, updated_at, completed_at
		FROM media_tasks
		WHERE id = $1
	`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, err
	}
	if err := r.attachArtifacts(ctx, []*domain.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// ListRecent returns up to limit tasks, newest first.
func (r *TaskRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, status, error, error_kind, created_at, updated_at, completed_at
		FROM media_tasks
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	if err := r.attachArtifacts(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Ping reports whether Postgres is reachable.
func (r *TaskRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// attachArtifacts loads the artifacts of every completed task in one query.
func (r *TaskRepository) attachArtifacts(ctx context.Context, tasks []*domain.Task) error {
	byID := make(map[string]*domain.Task)
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == domain.StatusCompleted {
			t.Result = &domain.Result{Artifacts: []domain.Artifact{}}
			byID[t.ID] = t
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT task_id, idx, remote_url, local_path, bytes, sha256, thumbnail
		FROM media_artifacts
		WHERE task_id = ANY($1::uuid[])
		ORDER BY task_id, idx
	`, ids)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			taskID string
			a      domain.Artifact
		)
		if err := rows.Scan(&taskID, &a.Index, &a.RemoteURL, &a.LocalPath, &a.Bytes, &a.SHA256, &a.Thumbnail); err != nil {
			return fmt.Errorf("scan artifact: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			t.Result.Artifacts = append(t.Result.Artifacts, a)
		}
	}
	return rows.Err()
}

// scanTask reads a task row from any pgx row type.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		task              domain.Task
		status, errorKind string
	)
	err := row.Scan(
		&task.ID, &task.Kind, &status, &task.Error, &errorKind,
		&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Status = domain.Status(status)
	task.ErrorKind = domain.ErrorKind(errorKind)
	return &task, nil
}
