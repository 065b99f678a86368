package domain

import "time"

// TaskStatus represents the states a delegated task can be in.
// Transitions are monotonic: a task never regresses to an earlier state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskAssigned  TaskStatus = "ASSIGNED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// statusRank orders statuses so transitions can be checked for regression.
var statusRank = map[TaskStatus]int{
	TaskPending:   0,
	TaskAssigned:  1,
	TaskRunning:   2,
	TaskCompleted: 3,
	TaskFailed:    3,
}

// CanTransitionTo reports whether moving from s to next is a forward move.
// Terminal states accept no further transitions.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// IsTerminal returns true if no further state transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskSource identifies where a task originated.
type TaskSource string

const (
	SourceAPI       TaskSource = "api"
	SourceGateway   TaskSource = "gateway"
	SourceScheduler TaskSource = "scheduler"
	SourceOptimizer TaskSource = "optimizer"
	SourceHealer    TaskSource = "healer"
)

// Synthetic reports whether the source is a control-plane-generated retry or
// prompt-revision task. Synthetic tasks never spawn further healer tasks.
func (s TaskSource) Synthetic() bool {
	return s == SourceHealer || s == SourceOptimizer
}

// TaskMessage is one entry in a task's append-only transcript.
type TaskMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is a single unit of delegated work. Tasks are never deleted — failed
// ones may be superseded by healer tasks, scheduler ones by optimizer tasks.
type Task struct {
	ID             string         `json:"id"`
	Prompt         string         `json:"prompt"`
	Options        map[string]any `json:"options,omitempty"`
	Status         TaskStatus     `json:"status"`
	Result         string         `json:"result,omitempty"`
	ExecutorID     string         `json:"executor_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Messages       []TaskMessage  `json:"messages,omitempty"`
	Source         TaskSource     `json:"source"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
	RetryNumber    int            `json:"retry_number"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ScheduledTaskID returns the owning scheduled task's id for scheduler-,
// healer- and optimizer-sourced tasks, or "" when the task has no owner.
func (t *Task) ScheduledTaskID() string {
	if t.SourceMetadata == nil {
		return ""
	}
	id, _ := t.SourceMetadata["scheduled_task_id"].(string)
	return id
}

// OptionBool reads a boolean task option. The second return value reports
// whether the option was present at all, so callers can fall through to
// schedule- or system-level defaults.
func (t *Task) OptionBool(key string) (value, ok bool) {
	if t.Options == nil {
		return false, false
	}
	v, present := t.Options[key]
	if !present {
		return false, false
	}
	b, isBool := v.(bool)
	return b, isBool
}

// OptionInt reads an integer task option, tolerating the float64 that
// arrives when options round-trip through JSON.
func (t *Task) OptionInt(key string) (int, bool) {
	if t.Options == nil {
		return 0, false
	}
	switch v := t.Options[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
