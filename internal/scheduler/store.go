package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// Store is the durable home for scheduled task definitions. The Postgres
// ScheduleRepository satisfies it; when no database is configured the
// FileStore below keeps definitions in a flat JSON file.
type Store interface {
	List(ctx context.Context) ([]*domain.ScheduledTask, error)
	Get(ctx context.Context, id string) (*domain.ScheduledTask, error)
	Create(ctx context.Context, st *domain.ScheduledTask) error
	Update(ctx context.Context, st *domain.ScheduledTask) error
	Delete(ctx context.Context, id string) error
}

// FileStore is the flat-file fallback. The whole table is rewritten on each
// mutation; fine for the handful of schedules a single deployment carries.
type FileStore struct {
	mu   sync.Mutex
	path string
	// deleted rows stay in the file as soft-deleted markers
	schedules map[string]*domain.ScheduledTask
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:      path,
		schedules: make(map[string]*domain.ScheduledTask),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fs, nil
		}
		return nil, fmt.Errorf("read schedule file %s: %w", path, err)
	}
	var all []*domain.ScheduledTask
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse schedule file %s: %w", path, err)
	}
	for _, st := range all {
		fs.schedules[st.ID] = st
	}
	return fs, nil
}

func (f *FileStore) List(_ context.Context) ([]*domain.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.ScheduledTask
	for _, st := range f.schedules {
		if st.Deleted {
			continue
		}
		copied := *st
		out = append(out, &copied)
	}
	return out, nil
}

func (f *FileStore) Get(_ context.Context, id string) (*domain.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.schedules[id]
	if !ok || st.Deleted {
		return nil, &domain.ScheduleNotFoundError{ScheduleID: id}
	}
	copied := *st
	return &copied, nil
}

func (f *FileStore) Create(_ context.Context, st *domain.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *st
	f.schedules[st.ID] = &copied
	return f.flushLocked()
}

func (f *FileStore) Update(_ context.Context, st *domain.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.schedules[st.ID]
	if !ok || existing.Deleted {
		return &domain.ScheduleNotFoundError{ScheduleID: st.ID}
	}
	copied := *st
	f.schedules[st.ID] = &copied
	return f.flushLocked()
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.schedules[id]
	if !ok || st.Deleted {
		return &domain.ScheduleNotFoundError{ScheduleID: id}
	}
	st.Deleted = true
	return f.flushLocked()
}

func (f *FileStore) flushLocked() error {
	all := make([]*domain.ScheduledTask, 0, len(f.schedules))
	for _, st := range f.schedules {
		all = append(all, st)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("mkdir for schedule file: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write schedule file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace schedule file: %w", err)
	}
	return nil
}
