// Package helpreq tracks pending human clarification requests and their
// timeout timers. One independently cancellable timer exists per pending
// request; a terminal transition cancels it, and a timer that fires after
// the status already changed is a no-op.
package helpreq

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/internal/postgres"
)

// Notifier receives terminal-state callbacks. The orchestrator implements
// it to publish durable help.response events and chase up executors.
type Notifier interface {
	// HelpResolved fires when a human answered in time.
	HelpResolved(req *domain.HelpRequest)
	// HelpFailed fires on timeout, dismissal, or disconnect-cancellation.
	// The request's Status distinguishes the three.
	HelpFailed(req *domain.HelpRequest)
}

type Manager struct {
	mu       sync.Mutex
	requests map[string]*domain.HelpRequest
	timers   map[string]*time.Timer

	notifier Notifier
	repo     *postgres.HelpRequestRepository // nil = memory-only
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithRepository(repo *postgres.HelpRequestRepository) Option {
	return func(m *Manager) { m.repo = repo }
}

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func NewManager(notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		requests: make(map[string]*domain.HelpRequest),
		timers:   make(map[string]*time.Timer),
		notifier: notifier,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a pending request and starts its timeout timer. An empty id
// gets a generated one; executors that supply their own request id keep it
// so they can correlate the eventual response.
func (m *Manager) Create(ctx context.Context, id, executorID, taskID string, questions []string, timeout time.Duration) *domain.HelpRequest {
	if id == "" {
		id = uuid.New().String()
	}
	req := &domain.HelpRequest{
		ID:         id,
		ExecutorID: executorID,
		TaskID:     taskID,
		Questions:  questions,
		Status:     domain.HelpPending,
		CreatedAt:  m.now().UTC(),
	}

	m.mu.Lock()
	m.requests[req.ID] = req
	m.timers[req.ID] = time.AfterFunc(timeout, func() { m.fireTimeout(req.ID) })
	m.mu.Unlock()

	m.persist(ctx, req)
	return req
}

// Respond resolves a pending request with answers. Fails with
// HelpRequestStateError if the request already reached a terminal state, so
// a response that arrives after timeout is ignored.
func (m *Manager) Respond(ctx context.Context, id string, answers []string, source string) (*domain.HelpRequest, error) {
	req, err := m.finish(id, domain.HelpResponded, func(r *domain.HelpRequest) {
		r.Answers = answers
		r.ResponseSource = source
	})
	if err != nil {
		return nil, err
	}
	m.persist(ctx, req)
	if m.notifier != nil {
		m.notifier.HelpResolved(req)
	}
	return req, nil
}

// Dismiss terminates a pending request without answers. Unlike plain
// cancellation it still notifies the executor side, so it does not wait
// indefinitely for an answer that will never come.
func (m *Manager) Dismiss(ctx context.Context, id, source string) (*domain.HelpRequest, error) {
	req, err := m.finish(id, domain.HelpDismissed, func(r *domain.HelpRequest) {
		r.ResponseSource = source
	})
	if err != nil {
		return nil, err
	}
	m.persist(ctx, req)
	if m.notifier != nil {
		m.notifier.HelpFailed(req)
	}
	return req, nil
}

// CancelForExecutor cancels every pending request tied to a disconnected or
// evicted executor.
func (m *Manager) CancelForExecutor(ctx context.Context, executorID string) []*domain.HelpRequest {
	m.mu.Lock()
	var ids []string
	for id, req := range m.requests {
		if req.ExecutorID == executorID && req.Status == domain.HelpPending {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var cancelled []*domain.HelpRequest
	for _, id := range ids {
		req, err := m.finish(id, domain.HelpCancelled, nil)
		if err != nil {
			continue // lost the race to another terminal transition
		}
		m.persist(ctx, req)
		if m.notifier != nil {
			m.notifier.HelpFailed(req)
		}
		cancelled = append(cancelled, req)
	}
	return cancelled
}

// finish applies a terminal transition under the lock: only pending
// requests move, the timer is cancelled and dropped, and a copy of the
// final state is returned.
func (m *Manager) finish(id string, status domain.HelpRequestStatus, mutate func(*domain.HelpRequest)) (*domain.HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, &domain.HelpRequestNotFoundError{RequestID: id}
	}
	if req.Status != domain.HelpPending {
		return nil, &domain.HelpRequestStateError{RequestID: id, Status: req.Status}
	}

	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}

	req.Status = status
	now := m.now().UTC()
	req.ResolvedAt = &now
	if mutate != nil {
		mutate(req)
	}
	copied := *req
	return &copied, nil
}

// fireTimeout runs when a request's timer fires. Timers are not guaranteed
// to be cancelled instantaneously, so the pending check here is load-bearing:
// if the status already changed, the firing is a no-op.
func (m *Manager) fireTimeout(id string) {
	m.mu.Lock()
	req, ok := m.requests[id]
	if !ok || req.Status != domain.HelpPending {
		m.mu.Unlock()
		return
	}
	delete(m.timers, id)
	req.Status = domain.HelpTimeout
	req.ChannelRef = nil // a late channel reply must not correlate anymore
	now := m.now().UTC()
	req.ResolvedAt = &now
	copied := *req
	m.mu.Unlock()

	m.persist(context.Background(), &copied)
	if m.notifier != nil {
		m.notifier.HelpFailed(&copied)
	}
}

// SetChannelRef records which chat message a request was surfaced as, so an
// asynchronous reply on that transport can be routed back.
func (m *Manager) SetChannelRef(ctx context.Context, id string, ref domain.ChannelRef) error {
	m.mu.Lock()
	req, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return &domain.HelpRequestNotFoundError{RequestID: id}
	}
	req.ChannelRef = &ref
	copied := *req
	m.mu.Unlock()

	m.persist(ctx, &copied)
	return nil
}

// GetByChannelRef finds the pending request correlated to a chat message.
func (m *Manager) GetByChannelRef(chatID, messageID string) (*domain.HelpRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.Status != domain.HelpPending || req.ChannelRef == nil {
			continue
		}
		if req.ChannelRef.ChatID == chatID && req.ChannelRef.MessageID == messageID {
			copied := *req
			return &copied, true
		}
	}
	return nil, false
}

// Get returns a copy of a request.
func (m *Manager) Get(id string) (*domain.HelpRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, false
	}
	copied := *req
	return &copied, true
}

// List returns requests, optionally filtered by status, newest first.
func (m *Manager) List(status domain.HelpRequestStatus) []*domain.HelpRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.HelpRequest, 0, len(m.requests))
	for _, req := range m.requests {
		if status != "" && req.Status != status {
			continue
		}
		copied := *req
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Manager) persist(ctx context.Context, req *domain.HelpRequest) {
	if m.repo == nil {
		return
	}
	if err := m.repo.Save(ctx, req); err != nil {
		m.logger.Error("persist help request",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }
