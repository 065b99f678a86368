// Package tasks implements the task lifecycle manager and the FIFO backlog
// of tasks awaiting an available executor.
package tasks

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/internal/postgres"
	redisstore "github.com/byt3bl33d3r/figaro-sub000/internal/redis"
)

// Manager owns task state. The in-memory index is the fast-path source of
// truth; the repository (optional) is written first on every mutation and
// consulted only on cache miss. The Redis state store (optional) is a
// best-effort cross-process cache — failures there are logged, never fatal.
type Manager struct {
	mu      sync.Mutex
	index   map[string]*domain.Task
	backlog []string // task ids, oldest first; independent of task status

	repo   postgres.TaskRepository // nil = memory-only
	cache  redisstore.StateStore   // nil = no cross-process cache
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithRepository(repo postgres.TaskRepository) Option {
	return func(m *Manager) { m.repo = repo }
}

func WithStateStore(store redisstore.StateStore) Option {
	return func(m *Manager) { m.cache = store }
}

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		index:  make(map[string]*domain.Task),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create persists the task (if a store is configured), then indexes it.
func (m *Manager) Create(ctx context.Context, task *domain.Task) error {
	now := m.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = domain.TaskPending
	}

	if m.repo != nil {
		if err := m.repo.Create(ctx, task); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.index[task.ID] = task
	m.mu.Unlock()

	m.cacheStatus(ctx, task)
	return nil
}

// Assign binds the task to an executor and moves it to ASSIGNED. A task
// already in ASSIGNED may be re-bound: a failed delivery puts it back on
// the backlog and a later drain hands it to a different executor.
func (m *Manager) Assign(ctx context.Context, id, executorID, sessionID string) error {
	m.mu.Lock()
	task, ok := m.index[id]
	rebind := ok && task.Status == domain.TaskAssigned
	m.mu.Unlock()

	if rebind {
		if m.repo != nil {
			if err := m.repo.SetExecutor(ctx, id, executorID, sessionID); err != nil {
				return err
			}
		}
		m.mu.Lock()
		if task, ok := m.index[id]; ok {
			task.ExecutorID = executorID
			task.SessionID = sessionID
			task.UpdatedAt = m.now().UTC()
		}
		m.mu.Unlock()
		return nil
	}

	return m.transition(ctx, id, domain.TaskAssigned, "", func(t *domain.Task) {
		t.ExecutorID = executorID
		t.SessionID = sessionID
	})
}

// Start moves the task to RUNNING.
func (m *Manager) Start(ctx context.Context, id string) error {
	return m.transition(ctx, id, domain.TaskRunning, "", nil)
}

// Complete moves the task to COMPLETED with its result.
func (m *Manager) Complete(ctx context.Context, id, result string) error {
	return m.transition(ctx, id, domain.TaskCompleted, result, nil)
}

// Fail moves the task to FAILED, recording the error string as the result.
func (m *Manager) Fail(ctx context.Context, id, errMsg string) error {
	return m.transition(ctx, id, domain.TaskFailed, errMsg, nil)
}

func (m *Manager) transition(ctx context.Context, id string, to domain.TaskStatus, result string, mutate func(*domain.Task)) error {
	m.mu.Lock()
	task, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return &domain.TaskNotFoundError{TaskID: id}
	}
	if !task.Status.CanTransitionTo(to) {
		from := task.Status
		m.mu.Unlock()
		return &domain.InvalidTransitionError{TaskID: id, From: from, To: to}
	}
	snapshot := *task
	m.mu.Unlock()

	// Persist first; the index is updated only once the store accepted it.
	if m.repo != nil {
		if err := m.repo.UpdateStatus(ctx, id, to, result); err != nil {
			return err
		}
		if mutate != nil {
			preview := snapshot
			mutate(&preview)
			if preview.ExecutorID != snapshot.ExecutorID || preview.SessionID != snapshot.SessionID {
				if err := m.repo.SetExecutor(ctx, id, preview.ExecutorID, preview.SessionID); err != nil {
					return err
				}
			}
		}
	}

	m.mu.Lock()
	task, ok = m.index[id]
	if !ok {
		m.mu.Unlock()
		return &domain.TaskNotFoundError{TaskID: id}
	}
	task.Status = to
	if to.IsTerminal() {
		task.Result = result
	}
	if mutate != nil {
		mutate(task)
	}
	task.UpdatedAt = m.now().UTC()
	cached := *task
	m.mu.Unlock()

	m.cacheStatus(ctx, &cached)
	return nil
}

// AppendMessage grows the task's transcript. Order is the call order; later
// healing and learning prompts are built from this transcript.
func (m *Manager) AppendMessage(ctx context.Context, id string, msg domain.TaskMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now().UTC()
	}

	if m.repo != nil {
		if err := m.repo.AppendMessage(ctx, id, msg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.index[id]
	if !ok {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	task.Messages = append(task.Messages, msg)
	task.UpdatedAt = m.now().UTC()
	return nil
}

// Get returns a copy of the task, falling back to the durable store on
// cache miss.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	task, ok := m.index[id]
	if ok {
		copied := *task
		m.mu.Unlock()
		return &copied, nil
	}
	m.mu.Unlock()

	if m.repo == nil {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	task, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.index[task.ID] = task
	copied := *task
	m.mu.Unlock()
	return &copied, nil
}

// History returns the task's transcript.
func (m *Manager) History(ctx context.Context, id string) ([]domain.TaskMessage, error) {
	task, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return task.Messages, nil
}

// Queue pushes a task id onto the backlog. The backlog is independent of
// task status: a task is queued whenever no executor was free at
// assignment time, whatever state it is in.
func (m *Manager) Queue(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backlog = append(m.backlog, id)
}

// Requeue puts a task id back at the head of the backlog, preserving its
// original position when a drain attempt found no executor.
func (m *Manager) Requeue(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backlog = append([]string{id}, m.backlog...)
}

// NextPending pops the oldest backlog entry. Returns "" when empty.
func (m *Manager) NextPending() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.backlog) == 0 {
		return ""
	}
	id := m.backlog[0]
	m.backlog = m.backlog[1:]
	return id
}

// HasPending reports whether the backlog is non-empty.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backlog) > 0
}

// BacklogDepth returns the current backlog size.
func (m *Manager) BacklogDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backlog)
}

// All returns tasks, optionally filtered by status, newest first.
func (m *Manager) All(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.Lock()
	out := make([]*domain.Task, 0, len(m.index))
	for _, task := range m.index {
		if status != "" && task.Status != status {
			continue
		}
		copied := *task
		out = append(out, &copied)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Search matches the query against prompts and results, case-insensitively.
// Falls through to the durable store when the in-memory index has no hits.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	needle := strings.ToLower(query)

	m.mu.Lock()
	var out []*domain.Task
	for _, task := range m.index {
		if strings.Contains(strings.ToLower(task.Prompt), needle) ||
			strings.Contains(strings.ToLower(task.Result), needle) {
			copied := *task
			out = append(out, &copied)
		}
	}
	m.mu.Unlock()

	if len(out) == 0 && m.repo != nil {
		return m.repo.Search(ctx, query, limit)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Manager) cacheStatus(ctx context.Context, task *domain.Task) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetStatus(ctx, task.ID, task.Status); err != nil {
		m.logger.Error("state cache set status", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
	if err := m.cache.SetTaskMeta(ctx, task); err != nil {
		m.logger.Error("state cache set meta", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }
