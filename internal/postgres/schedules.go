package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// ScheduleRepository is the durable store for scheduled tasks. Deletes are
// soft: the row stays for audit but disappears from queries.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

const scheduleSelect = `
	SELECT id, name, prompt, start_url, interval_seconds, cron_expr, enabled,
	       run_count, max_runs, next_run_at, last_run_at, parallel_workers,
	       notify_on_complete, self_learning, self_learning_max_runs,
	       self_learning_run_count, self_healing, created_at, updated_at
	FROM scheduled_tasks`

func (r *ScheduleRepository) List(ctx context.Context) ([]*domain.ScheduledTask, error) {
	rows, err := r.pool.Query(ctx, scheduleSelect+` WHERE deleted = FALSE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScheduledTask
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	row := r.pool.QueryRow(ctx, scheduleSelect+` WHERE id = $1 AND deleted = FALSE`, id)
	st, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ScheduleNotFoundError{ScheduleID: id}
		}
		return nil, err
	}
	return st, nil
}

func (r *ScheduleRepository) Create(ctx context.Context, st *domain.ScheduledTask) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduled_tasks
			(id, name, prompt, start_url, interval_seconds, cron_expr, enabled,
			 run_count, max_runs, next_run_at, last_run_at, parallel_workers,
			 notify_on_complete, self_learning, self_learning_max_runs,
			 self_learning_run_count, self_healing, deleted, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, FALSE, $18, $19)
	`,
		st.ID, st.Name, st.Prompt, st.StartURL, st.IntervalSeconds, st.CronExpr,
		st.Enabled, st.RunCount, st.MaxRuns, st.NextRunAt, st.LastRunAt,
		st.ParallelWorkers, st.NotifyOnComplete, st.SelfLearning,
		st.SelfLearningMaxRuns, st.SelfLearningRuns, st.SelfHealing,
		st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create scheduled task %s: %w", st.ID, err)
	}
	return nil
}

func (r *ScheduleRepository) Update(ctx context.Context, st *domain.ScheduledTask) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET name = $1, prompt = $2, start_url = $3, interval_seconds = $4,
		    cron_expr = $5, enabled = $6, run_count = $7, max_runs = $8,
		    next_run_at = $9, last_run_at = $10, parallel_workers = $11,
		    notify_on_complete = $12, self_learning = $13,
		    self_learning_max_runs = $14, self_learning_run_count = $15,
		    self_healing = $16, updated_at = $17
		WHERE id = $18 AND deleted = FALSE
	`,
		st.Name, st.Prompt, st.StartURL, st.IntervalSeconds, st.CronExpr,
		st.Enabled, st.RunCount, st.MaxRuns, st.NextRunAt, st.LastRunAt,
		st.ParallelWorkers, st.NotifyOnComplete, st.SelfLearning,
		st.SelfLearningMaxRuns, st.SelfLearningRuns, st.SelfHealing,
		time.Now().UTC(), st.ID,
	)
	if err != nil {
		return fmt.Errorf("update scheduled task %s: %w", st.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ScheduleNotFoundError{ScheduleID: st.ID}
	}
	return nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_tasks SET deleted = TRUE, updated_at = $1 WHERE id = $2 AND deleted = FALSE
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete scheduled task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ScheduleNotFoundError{ScheduleID: id}
	}
	return nil
}

func scanSchedule(row interface {
	Scan(...any) error
}) (*domain.ScheduledTask, error) {
	var st domain.ScheduledTask
	err := row.Scan(
		&st.ID, &st.Name, &st.Prompt, &st.StartURL, &st.IntervalSeconds,
		&st.CronExpr, &st.Enabled, &st.RunCount, &st.MaxRuns, &st.NextRunAt,
		&st.LastRunAt, &st.ParallelWorkers, &st.NotifyOnComplete,
		&st.SelfLearning, &st.SelfLearningMaxRuns, &st.SelfLearningRuns,
		&st.SelfHealing, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
