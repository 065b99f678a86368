package domain

import "time"

// HelpRequestStatus tracks a pending human clarification. The terminal
// states are distinct because each triggers a different downstream
// notification: responded (answers delivered), timeout (timer fired),
// dismissed (operator declined), cancelled (executor disconnected).
type HelpRequestStatus string

const (
	HelpPending   HelpRequestStatus = "pending"
	HelpResponded HelpRequestStatus = "responded"
	HelpTimeout   HelpRequestStatus = "timeout"
	HelpDismissed HelpRequestStatus = "dismissed"
	HelpCancelled HelpRequestStatus = "cancelled"
)

// ChannelRef correlates an inbound chat-channel reply to a help request.
type ChannelRef struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// HelpRequest is one pending question/answer exchange between an executor
// and a human operator.
type HelpRequest struct {
	ID             string            `json:"id"`
	ExecutorID     string            `json:"executor_id"`
	TaskID         string            `json:"task_id"`
	Questions      []string          `json:"questions"`
	Status         HelpRequestStatus `json:"status"`
	Answers        []string          `json:"answers,omitempty"`
	ResponseSource string            `json:"response_source,omitempty"`
	ChannelRef     *ChannelRef       `json:"channel_ref,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}
