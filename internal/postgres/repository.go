package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// TaskRepository is the durable store for tasks and their transcripts.
// All repositories in this package are optional: a nil repository means
// memory-only operation for the process lifetime.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, result string) error
	SetExecutor(ctx context.Context, id, executorID, sessionID string) error
	AppendMessage(ctx context.Context, id string, msg domain.TaskMessage) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error)
	Search(ctx context.Context, query string, limit int) ([]*domain.Task, error)
}

type taskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository wraps a pgxpool with the TaskRepository interface.
func NewTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &taskRepository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	options, err := json.Marshal(task.Options)
	if err != nil {
		return fmt.Errorf("marshal options for task %s: %w", task.ID, err)
	}
	meta, err := json.Marshal(task.SourceMetadata)
	if err != nil {
		return fmt.Errorf("marshal source metadata for task %s: %w", task.ID, err)
	}
	messages, err := json.Marshal(task.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages for task %s: %w", task.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO tasks
			(id, prompt, options, status, result, executor_id, session_id,
			 messages, source, source_metadata, retry_number, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		task.ID, task.Prompt, options, string(task.Status), task.Result,
		task.ExecutorID, task.SessionID, messages, string(task.Source),
		meta, task.RetryNumber, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *taskRepository) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, result string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, result = $2, updated_at = $3
		WHERE id = $4
	`, string(status), result, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update status for task %s: %w", id, err)
	}
	return nil
}

func (r *taskRepository) SetExecutor(ctx context.Context, id, executorID, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET executor_id = $1, session_id = $2, updated_at = $3
		WHERE id = $4
	`, executorID, sessionID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set executor for task %s: %w", id, err)
	}
	return nil
}

func (r *taskRepository) AppendMessage(ctx context.Context, id string, msg domain.TaskMessage) error {
	entry, err := json.Marshal([]domain.TaskMessage{msg})
	if err != nil {
		return fmt.Errorf("marshal message for task %s: %w", id, err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE tasks
		SET messages = messages || $1::jsonb, updated_at = $2
		WHERE id = $3
	`, entry, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("append message for task %s: %w", id, err)
	}
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, taskSelect+` WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, taskSelect+`
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *taskRepository) Search(ctx context.Context, query string, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, taskSelect+`
		WHERE prompt ILIKE '%' || $1 || '%' OR result ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search tasks %q: %w", query, err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

const taskSelect = `
	SELECT id, prompt, options, status, result, executor_id, session_id,
	       messages, source, source_metadata, retry_number, created_at, updated_at
	FROM tasks`

func collectTasks(rows pgx.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var (
		task                   domain.Task
		statusStr, sourceStr   string
		options, meta, msgsRaw []byte
	)
	err := row.Scan(
		&task.ID, &task.Prompt, &options, &statusStr, &task.Result,
		&task.ExecutorID, &task.SessionID, &msgsRaw, &sourceStr,
		&meta, &task.RetryNumber, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(statusStr)
	task.Source = domain.TaskSource(sourceStr)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &task.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for task %s: %w", task.ID, err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &task.SourceMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal source metadata for task %s: %w", task.ID, err)
		}
	}
	if len(msgsRaw) > 0 {
		if err := json.Unmarshal(msgsRaw, &task.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages for task %s: %w", task.ID, err)
		}
	}
	return &task, nil
}
