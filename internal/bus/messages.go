package bus

import (
	"time"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// Heartbeat is the fire-and-forget liveness broadcast from executors.
// Unknown client ids carrying a ClientType are auto-registered.
type Heartbeat struct {
	ClientID     string   `json:"client_id"`
	Status       string   `json:"status"` // idle | busy
	ClientType   string   `json:"client_type,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	DesktopAddr  string   `json:"desktop_addr,omitempty"`
}

// Deregister is the fire-and-forget disconnect notice.
type Deregister struct {
	ClientID string `json:"client_id"`
}

// Task event kinds on the durable task stream.
const (
	TaskEventMessage  = "message"
	TaskEventAssigned = "assigned"
	TaskEventComplete = "complete"
	TaskEventError    = "error"
)

// TaskEvent is one entry on the per-task durable stream. Consumers key on
// TaskID for idempotence.
type TaskEvent struct {
	Kind       string `json:"kind"`
	TaskID     string `json:"task_id"`
	ExecutorID string `json:"executor_id,omitempty"`
	Role       string `json:"role,omitempty"`
	Content    string `json:"content,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// Assignment command kinds.
const (
	AssignCmdTask = "assign"
	AssignCmdPing = "ping"
)

// AssignCommand is sent to one executor, keyed by executor id. Pings carry
// no task and exist only to verify liveness via the ack round-trip.
type AssignCommand struct {
	Kind          string       `json:"kind"`
	CorrelationID string       `json:"correlation_id"`
	ExecutorID    string       `json:"executor_id"`
	Task          *domain.Task `json:"task,omitempty"`
}

// Ack is the executor's reply on the shared ack topic.
type Ack struct {
	CorrelationID string `json:"correlation_id"`
	ExecutorID    string `json:"executor_id"`
	OK            bool   `json:"ok"`
	Reason        string `json:"reason,omitempty"`
}

// HelpRequestEvent announces a new help request (fire-and-forget fan-out).
type HelpRequestEvent struct {
	RequestID  string   `json:"request_id"`
	ExecutorID string   `json:"executor_id"`
	TaskID     string   `json:"task_id"`
	Questions  []string `json:"questions"`
}

// HelpResponseEvent is the durable per-request resolution, keyed by
// RequestID so it is delivered even if the requester subscribes late.
type HelpResponseEvent struct {
	RequestID string   `json:"request_id"`
	Status    string   `json:"status"` // responded | timeout | dismissed | cancelled
	Answers   []string `json:"answers,omitempty"`
	Source    string   `json:"source,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// GatewayTask is an inbound task request from a chat channel.
type GatewayTask struct {
	Channel   string         `json:"channel"`
	ChatID    string         `json:"chat_id"`
	MessageID string         `json:"message_id,omitempty"`
	Prompt    string         `json:"prompt"`
	Options   map[string]any `json:"options,omitempty"`
}

// GatewayRegister announces a chat-channel adapter coming online, with an
// optional default chat for notifications.
type GatewayRegister struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id,omitempty"`
}

// GatewaySend is an outbound text or image payload for a chat channel.
type GatewaySend struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
	PNG       []byte `json:"png,omitempty"`
}

// UIEvent mirrors a state change for UI consumers. Best-effort, not durable.
type UIEvent struct {
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
