// Package registry holds the authoritative in-memory table of connected
// executors. All state is owned by the Registry instance and guarded by a
// single mutex; claim operations perform find-and-mark-busy atomically so
// two concurrent callers never receive the same connection.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

type Registry struct {
	mu    sync.Mutex
	conns map[string]*domain.Connection
	now   func() time.Time // overridable in tests
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*domain.Connection),
		now:   time.Now,
	}
}

// Register adds or replaces a full-agent connection. Registering an id that
// exists as desktop-only upgrades it in place, preserving desktop identity.
func (r *Registry) Register(conn *domain.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	conn.AgentConnected = true
	conn.LastHeartbeat = now
	if conn.Status == "" {
		conn.Status = domain.StatusIdle
	}
	if existing, ok := r.conns[conn.ID]; ok {
		// Keep the desktop identity from a prior desktop-only registration.
		if conn.RemoteDesktopAddr == "" {
			conn.RemoteDesktopAddr = existing.RemoteDesktopAddr
			conn.RemoteDesktopCreds = existing.RemoteDesktopCreds
		}
		conn.RegisteredAt = existing.RegisteredAt
	} else {
		conn.RegisteredAt = now
	}
	r.conns[conn.ID] = conn
}

// RegisterDesktopOnly records a machine reachable for remote-desktop control
// with no task-executing process attached. It never overwrites a connection
// that already has an agent attached.
func (r *Registry) RegisterDesktopOnly(id, addr, creds string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[id]; ok && existing.AgentConnected {
		return false
	}
	now := r.now()
	r.conns[id] = &domain.Connection{
		ID:                 id,
		Kind:               domain.KindWorker,
		Status:             domain.StatusIdle,
		RemoteDesktopAddr:  addr,
		RemoteDesktopCreds: creds,
		AgentConnected:     false,
		LastHeartbeat:      now,
		RegisteredAt:       now,
	}
	return true
}

// Unregister removes the connection entirely.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// UpgradeToAgent attaches agent capability to a desktop-only connection.
func (r *Registry) UpgradeToAgent(id string, kind domain.ConnectionKind, capabilities []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return &domain.ConnectionNotFoundError{ConnectionID: id}
	}
	conn.AgentConnected = true
	conn.Kind = kind
	conn.Capabilities = capabilities
	conn.Status = domain.StatusIdle
	conn.LastHeartbeat = r.now()
	return nil
}

// DowngradeToDesktopOnly detaches the agent but keeps the desktop identity,
// so the machine remains reachable for remote-desktop commands.
func (r *Registry) DowngradeToDesktopOnly(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return &domain.ConnectionNotFoundError{ConnectionID: id}
	}
	conn.AgentConnected = false
	conn.Status = domain.StatusIdle
	conn.CurrentTaskID = ""
	return nil
}

// SetStatus updates availability. Clearing to idle also clears the current
// task binding.
func (r *Registry) SetStatus(id string, status domain.ConnectionStatus, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return &domain.ConnectionNotFoundError{ConnectionID: id}
	}
	conn.Status = status
	if status == domain.StatusIdle {
		conn.CurrentTaskID = ""
	} else if taskID != "" {
		conn.CurrentTaskID = taskID
	}
	return nil
}

// UpdateHeartbeat refreshes liveness for a known connection.
func (r *Registry) UpdateHeartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return &domain.ConnectionNotFoundError{ConnectionID: id}
	}
	conn.LastHeartbeat = r.now()
	return nil
}

// CheckHeartbeats returns ids whose last heartbeat is older than timeout.
// Desktop-only connections are exempt: with no agent attached there is
// nothing to send heartbeats, so staleness means nothing for them.
func (r *Registry) CheckHeartbeats(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-timeout)
	var stale []string
	for id, conn := range r.conns {
		if !conn.AgentConnected {
			continue
		}
		if conn.LastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// ClaimIdleWorker atomically finds an idle full-agent worker and marks it
// busy before returning. Returns nil when none is available.
func (r *Registry) ClaimIdleWorker() *domain.Connection {
	return r.claim(domain.KindWorker)
}

// ClaimIdleSupervisor is ClaimIdleWorker for supervisors.
func (r *Registry) ClaimIdleSupervisor() *domain.Connection {
	return r.claim(domain.KindSupervisor)
}

func (r *Registry) claim(kind domain.ConnectionKind) *domain.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Deterministic scan order keeps assignment stable across identical states.
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		conn := r.conns[id]
		if conn.Kind != kind || !conn.AgentConnected || conn.Status != domain.StatusIdle {
			continue
		}
		conn.Status = domain.StatusBusy
		copied := *conn
		return &copied
	}
	return nil
}

// Release marks a previously claimed connection idle again. Used when an
// assignment attempt fails after the claim.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.Status = domain.StatusIdle
		conn.CurrentTaskID = ""
	}
}

// Get returns a copy of a connection.
func (r *Registry) Get(id string) (*domain.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	copied := *conn
	return &copied, true
}

// Snapshot returns copies of all connections sorted by id.
func (r *Registry) Snapshot() []*domain.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		copied := *conn
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of connections of a kind with an agent attached.
func (r *Registry) Count(kind domain.ConnectionKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, conn := range r.conns {
		if conn.Kind == kind && conn.AgentConnected {
			n++
		}
	}
	return n
}

// SetClock overrides the time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }
