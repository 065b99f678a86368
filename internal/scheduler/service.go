// Package scheduler runs recurring task definitions: a polling loop wakes
// on a fixed interval, fans each due schedule out into parallel task
// instances, and reschedules or auto-pauses the definition.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/internal/registry"
	"github.com/byt3bl33d3r/figaro-sub000/internal/tasks"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

const defaultPollInterval = 10 * time.Second

// Assigner delivers an already-claimed assignment to an executor. The
// orchestrator implements it; the scheduler never talks to the bus directly.
type Assigner interface {
	Assign(ctx context.Context, task *domain.Task, conn *domain.Connection) error
}

// ExecutionReport summarizes one fan-out.
type ExecutionReport struct {
	ScheduleID    string `json:"schedule_id"`
	TasksCreated  int    `json:"tasks_created"`
	TasksAssigned int    `json:"tasks_assigned"`
	TasksQueued   int    `json:"tasks_queued"`
}

// Service owns scheduled task definitions and their execution.
type Service struct {
	store    Store
	tm       *tasks.Manager
	reg      *registry.Registry
	assigner Assigner
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithPollInterval(d time.Duration) Option { return func(s *Service) { s.interval = d } }
func WithLogger(l *slog.Logger) Option        { return func(s *Service) { s.logger = l } }

func NewService(store Store, tm *tasks.Manager, reg *registry.Registry, assigner Assigner, opts ...Option) *Service {
	s := &Service{
		store:    store,
		tm:       tm,
		reg:      reg,
		assigner: assigner,
		interval: defaultPollInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is the polling loop. Store failures are logged and retried on the
// next tick — the loop never dies. Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	schedules, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("schedule store list", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, st := range schedules {
		if !st.Enabled || st.NextRunAt == nil || st.NextRunAt.After(now) {
			continue
		}
		if _, err := s.Execute(ctx, st); err != nil {
			s.logger.Error("schedule execution",
				slog.String("schedule_id", st.ID),
				slog.String("name", st.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Execute fans a schedule out into ParallelWorkers independent task
// instances: workers available right now get assigned, the rest are queued.
// RunCount increments once per execution (not per instance), and the
// max-runs auto-pause boundary is evaluated exactly once here.
func (s *Service) Execute(ctx context.Context, st *domain.ScheduledTask) (*ExecutionReport, error) {
	now := s.now().UTC()
	report := &ExecutionReport{ScheduleID: st.ID}
	total := st.Fanout()

	for i := 1; i <= total; i++ {
		task := &domain.Task{
			ID:     uuid.New().String(),
			Prompt: st.Prompt,
			Status: domain.TaskPending,
			Source: domain.SourceScheduler,
			SourceMetadata: map[string]any{
				"scheduled_task_id": st.ID,
				"schedule_name":     st.Name,
				"parallel_instance": i,
				"parallel_total":    total,
			},
		}
		if st.StartURL != "" {
			task.Options = map[string]any{"start_url": st.StartURL}
		}
		if err := s.tm.Create(ctx, task); err != nil {
			s.logger.Error("create scheduled task instance",
				slog.String("schedule_id", st.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.TasksCreated++

		conn := s.reg.ClaimIdleWorker()
		if conn == nil {
			s.tm.Queue(task.ID)
			report.TasksQueued++
			continue
		}
		if err := s.assigner.Assign(ctx, task, conn); err != nil {
			s.logger.Error("assign scheduled task instance",
				slog.String("task_id", task.ID),
				slog.String("executor_id", conn.ID),
				slog.String("error", err.Error()),
			)
			s.reg.Release(conn.ID)
			s.tm.Queue(task.ID)
			report.TasksQueued++
			continue
		}
		report.TasksAssigned++
	}

	st.RunCount++
	st.LastRunAt = &now

	if st.MaxRuns > 0 && st.RunCount >= st.MaxRuns {
		st.Enabled = false
		st.NextRunAt = nil
	} else {
		next, err := s.nextRun(st, now)
		if err != nil {
			return report, err
		}
		st.NextRunAt = &next
	}

	if err := s.store.Update(ctx, st); err != nil {
		return report, fmt.Errorf("commit schedule %s after run: %w", st.ID, err)
	}

	telemetry.SchedulerRunsTotal.Inc()
	telemetry.SchedulerTasksSpawned.Add(float64(report.TasksCreated))
	s.logger.Info("schedule executed",
		slog.String("schedule_id", st.ID),
		slog.String("name", st.Name),
		slog.Int("tasks_created", report.TasksCreated),
		slog.Int("tasks_assigned", report.TasksAssigned),
		slog.Int("tasks_queued", report.TasksQueued),
		slog.Int("run_count", st.RunCount),
		slog.Bool("enabled", st.Enabled),
	)
	return report, nil
}

// Trigger runs a schedule immediately, bypassing the due-time check
// entirely — including when the schedule is disabled.
func (s *Service) Trigger(ctx context.Context, id string) (*ExecutionReport, error) {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, st)
}

// nextRun computes the next due time from the cron expression when one is
// set, otherwise from the fixed interval.
func (s *Service) nextRun(st *domain.ScheduledTask, from time.Time) (time.Time, error) {
	if st.CronExpr != "" {
		schedule, err := cron.ParseStandard(st.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron %q for schedule %s: %w", st.CronExpr, st.ID, err)
		}
		return schedule.Next(from), nil
	}
	return from.Add(time.Duration(st.IntervalSeconds) * time.Second), nil
}

// ─── CRUD ────────────────────────────────────────────────────────────────────

// Create validates and stores a new schedule, computing its first due time.
func (s *Service) Create(ctx context.Context, st *domain.ScheduledTask) error {
	if st.IntervalSeconds <= 0 && st.CronExpr == "" {
		return fmt.Errorf("schedule %q: interval_seconds or cron_expr required", st.Name)
	}
	now := s.now().UTC()
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	st.CreatedAt = now
	st.UpdatedAt = now
	st.RunCount = 0
	if st.Enabled {
		next, err := s.nextRun(st, now)
		if err != nil {
			return err
		}
		st.NextRunAt = &next
	} else {
		st.NextRunAt = nil
	}
	return s.store.Create(ctx, st)
}

// Update replaces a schedule definition, preserving run counters and
// recomputing the due time when the cadence changed or it was re-enabled.
func (s *Service) Update(ctx context.Context, st *domain.ScheduledTask) error {
	existing, err := s.store.Get(ctx, st.ID)
	if err != nil {
		return err
	}
	st.RunCount = existing.RunCount
	st.SelfLearningRuns = existing.SelfLearningRuns
	st.LastRunAt = existing.LastRunAt
	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = s.now().UTC()

	if !st.Enabled {
		st.NextRunAt = nil
	} else if existing.NextRunAt == nil ||
		st.IntervalSeconds != existing.IntervalSeconds ||
		st.CronExpr != existing.CronExpr {
		next, err := s.nextRun(st, s.now().UTC())
		if err != nil {
			return err
		}
		st.NextRunAt = &next
	} else {
		st.NextRunAt = existing.NextRunAt
	}
	return s.store.Update(ctx, st)
}

// Toggle flips enabled. Enabling schedules the next run; disabling clears it.
func (s *Service) Toggle(ctx context.Context, id string, enabled bool) (*domain.ScheduledTask, error) {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st.Enabled = enabled
	if enabled {
		next, err := s.nextRun(st, s.now().UTC())
		if err != nil {
			return nil, err
		}
		st.NextRunAt = &next
	} else {
		st.NextRunAt = nil
	}
	if err := s.store.Update(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// RecordLearningRun increments the optimizer counter for a schedule. The
// orchestrator calls it only when an optimizer task was actually created.
func (s *Service) RecordLearningRun(ctx context.Context, id string) error {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	st.SelfLearningRuns++
	return s.store.Update(ctx, st)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.store.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }
