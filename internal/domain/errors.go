package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// ConnectionNotFoundError is returned when an executor ID is not registered.
type ConnectionNotFoundError struct {
	ConnectionID string
}

func (e *ConnectionNotFoundError) Error() string {
	return fmt.Sprintf("connection not found: %s", e.ConnectionID)
}

// ScheduleNotFoundError is returned when a scheduled task ID does not exist
// or has been soft-deleted.
type ScheduleNotFoundError struct {
	ScheduleID string
}

func (e *ScheduleNotFoundError) Error() string {
	return fmt.Sprintf("scheduled task not found: %s", e.ScheduleID)
}

// HelpRequestNotFoundError is returned when a help request ID does not exist.
type HelpRequestNotFoundError struct {
	RequestID string
}

func (e *HelpRequestNotFoundError) Error() string {
	return fmt.Sprintf("help request not found: %s", e.RequestID)
}

// HelpRequestStateError is returned when an operation requires a pending
// help request but the request has already reached a terminal state.
type HelpRequestStateError struct {
	RequestID string
	Status    HelpRequestStatus
}

func (e *HelpRequestStateError) Error() string {
	return fmt.Sprintf("help request %s is %s, not pending", e.RequestID, e.Status)
}

// NoExecutorAvailableError is returned when every assignment candidate was
// exhausted. Callers queue the task instead of failing it.
type NoExecutorAvailableError struct {
	Kind ConnectionKind
}

func (e *NoExecutorAvailableError) Error() string {
	if e.Kind == "" {
		return "no idle executor available"
	}
	return fmt.Sprintf("no idle %s available", e.Kind)
}

// InvalidTransitionError is returned when a task status update would move
// backwards or out of a terminal state.
type InvalidTransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s → %s", e.TaskID, e.From, e.To)
}

// RateLimitExceededError is returned when task intake from a source exceeds
// its configured rate limit.
type RateLimitExceededError struct {
	Source string
	Limit  int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for source %q: limit is %d", e.Source, e.Limit)
}

// DesktopCommandError wraps a remote-desktop command failure with the target
// address so it surfaces as a descriptive error, never a crash.
type DesktopCommandError struct {
	Addr    string
	Command string
	Err     error
}

func (e *DesktopCommandError) Error() string {
	return fmt.Sprintf("desktop command %q against %s: %v", e.Command, e.Addr, e.Err)
}

func (e *DesktopCommandError) Unwrap() error { return e.Err }
