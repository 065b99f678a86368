package bus

// Topic names for the control-plane message bus. Task lifecycle events share
// one durable topic keyed by task id so per-task ordering holds within a
// partition; consumers must treat delivery as at-least-once.
const (
	TopicHeartbeat    = "fleet.heartbeat"
	TopicDeregister   = "fleet.deregister"
	TopicAssign       = "fleet.assign"
	TopicAcks         = "fleet.acks"
	TopicTaskEvents   = "task.events"
	TopicHelpRequest  = "help.request"
	TopicHelpResponse = "help.response"
	TopicGatewayTask  = "gateway.task"
	TopicGatewaySend  = "gateway.send"
	TopicGatewayReg   = "gateway.register"
	TopicUIEvents     = "ui.events"
)
