package domain

import "time"

// ConnectionKind distinguishes direct executors from secondary orchestrators.
type ConnectionKind string

const (
	KindWorker     ConnectionKind = "worker"
	KindSupervisor ConnectionKind = "supervisor"
)

// ConnectionStatus is the executor's availability for new work.
type ConnectionStatus string

const (
	StatusIdle ConnectionStatus = "idle"
	StatusBusy ConnectionStatus = "busy"
)

// Connection is one registered executor. IDs are unique across kinds.
//
// AgentConnected=false marks a desktop-only connection: a machine reachable
// for remote-desktop control but with no task-executing process attached.
// Desktop-only connections are never evicted by heartbeat checks.
type Connection struct {
	ID                  string            `json:"id"`
	Kind                ConnectionKind    `json:"kind"`
	Status              ConnectionStatus  `json:"status"`
	Capabilities        []string          `json:"capabilities,omitempty"`
	RemoteDesktopAddr   string            `json:"remote_desktop_addr,omitempty"`
	RemoteDesktopCreds  string            `json:"remote_desktop_creds,omitempty"`
	LastHeartbeat       time.Time         `json:"last_heartbeat"`
	AgentConnected      bool              `json:"agent_connected"`
	CurrentTaskID       string            `json:"current_task_id,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	RegisteredAt        time.Time         `json:"registered_at"`
}

// DesktopCapable reports whether the connection can serve remote-desktop
// commands. Used by the heartbeat monitor to decide between downgrade
// (keep the desktop identity) and full removal.
func (c *Connection) DesktopCapable() bool {
	return c.RemoteDesktopAddr != ""
}

// WorkerSession is an accounting record for one executor connection span.
type WorkerSession struct {
	ID             string         `json:"id"`
	ConnectionID   string         `json:"connection_id"`
	Kind           ConnectionKind `json:"kind"`
	ConnectedAt    time.Time      `json:"connected_at"`
	DisconnectedAt *time.Time     `json:"disconnected_at,omitempty"`
	TasksCompleted int            `json:"tasks_completed"`
	TasksFailed    int            `json:"tasks_failed"`
}

// DesktopWorker is the persisted registration of a desktop-only machine so
// it survives control-plane restarts.
type DesktopWorker struct {
	ID        string    `json:"id"`
	Addr      string    `json:"addr"`
	Creds     string    `json:"creds,omitempty"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
