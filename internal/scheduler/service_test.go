package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/internal/registry"
	"github.com/byt3bl33d3r/figaro-sub000/internal/tasks"
)

// ── mocks ──────────────────────────────────────────────────────────────────

type fakeStore struct {
	mu        sync.Mutex
	schedules map[string]*domain.ScheduledTask
	listErr   error
}

var _ Store = (*fakeStore)(nil)

func newFakeStore(schedules ...*domain.ScheduledTask) *fakeStore {
	f := &fakeStore{schedules: make(map[string]*domain.ScheduledTask)}
	for _, st := range schedules {
		f.schedules[st.ID] = st
	}
	return f
}

func (f *fakeStore) List(_ context.Context) ([]*domain.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domain.ScheduledTask
	for _, st := range f.schedules {
		copied := *st
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*domain.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.schedules[id]
	if !ok {
		return nil, &domain.ScheduleNotFoundError{ScheduleID: id}
	}
	copied := *st
	return &copied, nil
}

func (f *fakeStore) Create(_ context.Context, st *domain.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *st
	f.schedules[st.ID] = &copied
	return nil
}

func (f *fakeStore) Update(_ context.Context, st *domain.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[st.ID]; !ok {
		return &domain.ScheduleNotFoundError{ScheduleID: st.ID}
	}
	copied := *st
	f.schedules[st.ID] = &copied
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.schedules, id)
	return nil
}

type fakeAssigner struct {
	mu       sync.Mutex
	assigned []string // task ids
	err      error
}

var _ Assigner = (*fakeAssigner)(nil)

func (f *fakeAssigner) Assign(_ context.Context, task *domain.Task, conn *domain.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.assigned = append(f.assigned, task.ID)
	return nil
}

// ── helpers ────────────────────────────────────────────────────────────────

type testEnv struct {
	svc      *Service
	tm       *tasks.Manager
	reg      *registry.Registry
	assigner *fakeAssigner
}

func newTestService(store Store, workers int) testEnv {
	tm := tasks.NewManager()
	reg := registry.New()
	for i := 0; i < workers; i++ {
		reg.Register(&domain.Connection{
			ID:     "worker-" + string(rune('a'+i)),
			Kind:   domain.KindWorker,
			Status: domain.StatusIdle,
		})
	}
	assigner := &fakeAssigner{}
	return testEnv{
		svc:      NewService(store, tm, reg, assigner),
		tm:       tm,
		reg:      reg,
		assigner: assigner,
	}
}

func enabledSchedule(id string) *domain.ScheduledTask {
	return &domain.ScheduledTask{
		ID:              id,
		Name:            "nightly report",
		Prompt:          "compile the nightly report",
		IntervalSeconds: 3600,
		Enabled:         true,
		ParallelWorkers: 1,
	}
}

// ── tests ──────────────────────────────────────────────────────────────────

func TestExecute_FanOutSplitsAcrossAssignAndQueue(t *testing.T) {
	st := enabledSchedule("sch-1")
	st.ParallelWorkers = 3
	env := newTestService(newFakeStore(st), 1)

	report, err := env.svc.Execute(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TasksCreated)
	assert.Equal(t, 1, report.TasksAssigned)
	assert.Equal(t, 2, report.TasksQueued)
	assert.Len(t, env.assigner.assigned, 1)
	assert.Equal(t, 2, env.tm.BacklogDepth())

	created, err := env.tm.All(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, created, 3)
	for _, task := range created {
		assert.Equal(t, domain.SourceScheduler, task.Source)
		assert.Equal(t, "sch-1", task.ScheduledTaskID())
	}
}

func TestExecute_MaxRunsBoundaryAutoPauses(t *testing.T) {
	st := enabledSchedule("sch-1")
	st.MaxRuns = 2
	st.RunCount = 1
	store := newFakeStore(st)
	env := newTestService(store, 1)

	_, err := env.svc.Execute(context.Background(), st)
	require.NoError(t, err)

	saved, err := store.Get(context.Background(), "sch-1")
	require.NoError(t, err)
	assert.Equal(t, 2, saved.RunCount)
	assert.False(t, saved.Enabled, "hitting max_runs pauses the schedule")
	assert.Nil(t, saved.NextRunAt)
}

func TestExecute_BelowMaxRunsReschedules(t *testing.T) {
	st := enabledSchedule("sch-1")
	st.MaxRuns = 5
	store := newFakeStore(st)
	env := newTestService(store, 1)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.svc.SetClock(func() time.Time { return now })

	_, err := env.svc.Execute(context.Background(), st)
	require.NoError(t, err)

	saved, _ := store.Get(context.Background(), "sch-1")
	assert.True(t, saved.Enabled)
	require.NotNil(t, saved.NextRunAt)
	assert.Equal(t, now.Add(time.Hour), *saved.NextRunAt)
}

func TestExecute_CronCadence(t *testing.T) {
	st := enabledSchedule("sch-1")
	st.IntervalSeconds = 0
	st.CronExpr = "0 6 * * *"
	store := newFakeStore(st)
	env := newTestService(store, 1)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.svc.SetClock(func() time.Time { return now })

	_, err := env.svc.Execute(context.Background(), st)
	require.NoError(t, err)

	saved, _ := store.Get(context.Background(), "sch-1")
	require.NotNil(t, saved.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), *saved.NextRunAt)
}

func TestExecute_AssignFailureFallsBackToBacklog(t *testing.T) {
	st := enabledSchedule("sch-1")
	env := newTestService(newFakeStore(st), 1)
	env.assigner.err = errors.New("publish failed")

	report, err := env.svc.Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TasksQueued)
	assert.Equal(t, 0, report.TasksAssigned)
	assert.Equal(t, 1, env.tm.BacklogDepth())

	// The claimed worker was released back.
	assert.NotNil(t, env.reg.ClaimIdleWorker())
}

func TestTick_SkipsNotDueAndDisabled(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	stDue := enabledSchedule("due")
	stDue.NextRunAt = &due
	stFuture := enabledSchedule("future")
	stFuture.NextRunAt = &future
	stDisabled := enabledSchedule("disabled")
	stDisabled.Enabled = false
	stDisabled.NextRunAt = &due

	store := newFakeStore(stDue, stFuture, stDisabled)
	env := newTestService(store, 3)
	env.svc.SetClock(func() time.Time { return now })

	env.svc.tick(context.Background())

	require.Len(t, env.assigner.assigned, 1, "only the due, enabled schedule runs")
	saved, _ := store.Get(context.Background(), "due")
	assert.Equal(t, 1, saved.RunCount)
}

func TestTick_StoreFailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")
	env := newTestService(store, 1)

	assert.NotPanics(t, func() { env.svc.tick(context.Background()) })
}

func TestTrigger_BypassesDueTimeAndDisabled(t *testing.T) {
	st := enabledSchedule("sch-1")
	st.Enabled = false
	st.NextRunAt = nil
	env := newTestService(newFakeStore(st), 1)

	report, err := env.svc.Trigger(context.Background(), "sch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.TasksCreated)
	assert.Len(t, env.assigner.assigned, 1)

	_, err = env.svc.Trigger(context.Background(), "missing")
	var notFound *domain.ScheduleNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCreate_RequiresCadence(t *testing.T) {
	env := newTestService(newFakeStore(), 0)

	err := env.svc.Create(context.Background(), &domain.ScheduledTask{Name: "no cadence", Prompt: "p"})
	assert.Error(t, err)
}

func TestCreate_DisabledGetsNoDueTime(t *testing.T) {
	env := newTestService(newFakeStore(), 0)

	st := &domain.ScheduledTask{Name: "paused", Prompt: "p", IntervalSeconds: 60}
	require.NoError(t, env.svc.Create(context.Background(), st))
	assert.NotEmpty(t, st.ID)
	assert.Nil(t, st.NextRunAt)
}

func TestUpdate_PreservesCountersAndRecomputesDueTime(t *testing.T) {
	store := newFakeStore()
	env := newTestService(store, 0)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.svc.SetClock(func() time.Time { return now })

	st := enabledSchedule("")
	require.NoError(t, env.svc.Create(context.Background(), st))

	// Simulate prior runs.
	saved, _ := store.Get(context.Background(), st.ID)
	saved.RunCount = 4
	saved.SelfLearningRuns = 2
	require.NoError(t, store.Update(context.Background(), saved))

	updated := *st
	updated.IntervalSeconds = 120
	require.NoError(t, env.svc.Update(context.Background(), &updated))

	assert.Equal(t, 4, updated.RunCount)
	assert.Equal(t, 2, updated.SelfLearningRuns)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, now.Add(2*time.Minute), *updated.NextRunAt)
}

func TestToggle(t *testing.T) {
	env := newTestService(newFakeStore(), 0)

	st := enabledSchedule("")
	require.NoError(t, env.svc.Create(context.Background(), st))

	off, err := env.svc.Toggle(context.Background(), st.ID, false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)
	assert.Nil(t, off.NextRunAt)

	on, err := env.svc.Toggle(context.Background(), st.ID, true)
	require.NoError(t, err)
	assert.True(t, on.Enabled)
	assert.NotNil(t, on.NextRunAt)
}

func TestRecordLearningRun(t *testing.T) {
	st := enabledSchedule("sch-1")
	store := newFakeStore(st)
	env := newTestService(store, 0)

	require.NoError(t, env.svc.RecordLearningRun(context.Background(), "sch-1"))
	require.NoError(t, env.svc.RecordLearningRun(context.Background(), "sch-1"))

	saved, _ := store.Get(context.Background(), "sch-1")
	assert.Equal(t, 2, saved.SelfLearningRuns)
}

// ── FileStore ──────────────────────────────────────────────────────────────

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "schedules.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	st := enabledSchedule("sch-1")
	require.NoError(t, fs.Create(ctx, st))
	st2 := enabledSchedule("sch-2")
	require.NoError(t, fs.Create(ctx, st2))
	require.NoError(t, fs.Delete(ctx, "sch-2"))

	// Reload from disk: sch-1 survives, sch-2 stays soft-deleted.
	reloaded, err := NewFileStore(path)
	require.NoError(t, err)

	all, err := reloaded.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "sch-1", all[0].ID)

	var notFound *domain.ScheduleNotFoundError
	_, err = reloaded.Get(ctx, "sch-2")
	assert.ErrorAs(t, err, &notFound)
}

func TestFileStore_UpdateMissing(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "schedules.json"))
	require.NoError(t, err)

	var notFound *domain.ScheduleNotFoundError
	err = fs.Update(context.Background(), enabledSchedule("ghost"))
	assert.ErrorAs(t, err, &notFound)
}
