package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/byt3bl33d3r/figaro-sub000/internal/bus"
	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

// handleHelpRequest processes a new help request from an executor: the
// request is stored with its timeout timer, then surfaced to chat channels
// in the background so a human can answer from wherever they are.
func (o *Orchestrator) handleHelpRequest(ctx context.Context, msg bus.Message) error {
	var evt bus.HelpRequestEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		o.logger.Error("malformed help request, discarding", slog.String("error", err.Error()))
		return nil
	}
	if len(evt.Questions) == 0 {
		return nil
	}

	// Redelivery of an already-known request must not spawn a second timer.
	if evt.RequestID != "" {
		if _, exists := o.help.Get(evt.RequestID); exists {
			return nil
		}
	}

	req := o.help.Create(ctx, evt.RequestID, evt.ExecutorID, evt.TaskID, evt.Questions, o.helpTimeout)
	telemetry.HelpRequestsTotal.WithLabelValues("created").Inc()
	o.publishUI(ctx, "help.requested", req)
	o.logger.Info("help requested",
		slog.String("request_id", req.ID),
		slog.String("executor_id", req.ExecutorID),
		slog.String("task_id", req.TaskID),
	)

	o.mu.Lock()
	chatID := o.notifyChatID
	o.mu.Unlock()
	if chatID != "" {
		go o.surfaceHelpRequest(ctx, req, chatID)
	}
	return nil
}

// surfaceHelpRequest posts the question to the notification chat. The
// request is tagged with the outbound chat and message ids first, so a
// reply arriving over the gateway correlates back to it. An in-process
// bridge is also asked directly, first channel to answer wins. The ask is
// bounded by the request's own timeout through the manager: a late answer
// hits the pending check in Respond and is ignored.
func (o *Orchestrator) surfaceHelpRequest(ctx context.Context, req *domain.HelpRequest, chatID string) {
	question := strings.Join(req.Questions, "\n")

	messageID := uuid.New().String()
	ref := domain.ChannelRef{Channel: "gateway", ChatID: chatID, MessageID: messageID}
	if err := o.help.SetChannelRef(ctx, req.ID, ref); err != nil {
		o.logger.Debug("channel ref not recorded",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
	out := bus.GatewaySend{Channel: "gateway", ChatID: chatID, MessageID: messageID, Text: question}
	if err := o.publish(ctx, bus.TopicGatewaySend, chatID, out); err != nil {
		o.logger.Error("publish help question",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}

	if o.bridge == nil {
		return
	}
	answer, channel := o.bridge.AskFirst(ctx, chatID, question)
	if answer == "" {
		return
	}
	if _, err := o.help.Respond(ctx, req.ID, []string{answer}, channel); err != nil {
		o.logger.Debug("chat answer arrived too late",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
}

// registerChannelReplies wires asynchronous chat replies back to their
// pending help request via the channel correlation ref.
func (o *Orchestrator) registerChannelReplies() {
	if o.bridge == nil {
		return
	}
	for _, name := range o.bridge.Names() {
		ch, ok := o.bridge.Get(name)
		if !ok {
			continue
		}
		channel := name
		ch.OnMessage(func(chatID, messageID, text string) {
			req, ok := o.help.GetByChannelRef(chatID, messageID)
			if !ok {
				return
			}
			if _, err := o.help.Respond(context.Background(), req.ID, []string{text}, channel); err != nil {
				o.logger.Debug("channel reply arrived too late",
					slog.String("request_id", req.ID),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}

// HelpResolved publishes the durable response so the executor unblocks with
// its answers. Implements helpreq.Notifier.
func (o *Orchestrator) HelpResolved(req *domain.HelpRequest) {
	ctx := context.Background()
	evt := bus.HelpResponseEvent{
		RequestID: req.ID,
		Status:    string(req.Status),
		Answers:   req.Answers,
		Source:    req.ResponseSource,
	}
	if err := o.publish(ctx, bus.TopicHelpResponse, req.ID, evt); err != nil {
		o.logger.Error("publish help response",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
	telemetry.HelpRequestsTotal.WithLabelValues("responded").Inc()
	o.publishUI(ctx, "help.resolved", req)
}

// HelpFailed publishes the terminal failure so the executor stops waiting.
// The three failure states carry distinct errors because the executor reacts
// differently to each. Implements helpreq.Notifier.
func (o *Orchestrator) HelpFailed(req *domain.HelpRequest) {
	ctx := context.Background()
	var errMsg string
	switch req.Status {
	case domain.HelpTimeout:
		errMsg = "help request timed out with no answer"
	case domain.HelpDismissed:
		errMsg = "help request dismissed by operator"
	case domain.HelpCancelled:
		errMsg = "help request cancelled: executor disconnected"
	default:
		errMsg = "help request failed"
	}

	evt := bus.HelpResponseEvent{
		RequestID: req.ID,
		Status:    string(req.Status),
		Source:    req.ResponseSource,
		Error:     errMsg,
	}
	if err := o.publish(ctx, bus.TopicHelpResponse, req.ID, evt); err != nil {
		o.logger.Error("publish help response",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
	telemetry.HelpRequestsTotal.WithLabelValues(string(req.Status)).Inc()
	o.publishUI(ctx, "help.failed", req)
}

// handleGatewayTask processes inbound chat-channel traffic. A message that
// correlates to a pending help request is routed there; anything else is a
// new task submission.
func (o *Orchestrator) handleGatewayTask(ctx context.Context, msg bus.Message) error {
	var gt bus.GatewayTask
	if err := json.Unmarshal(msg.Value, &gt); err != nil {
		o.logger.Error("malformed gateway task, discarding", slog.String("error", err.Error()))
		return nil
	}
	if gt.Prompt == "" {
		return nil
	}

	if req, ok := o.help.GetByChannelRef(gt.ChatID, gt.MessageID); ok {
		if _, err := o.help.Respond(ctx, req.ID, []string{gt.Prompt}, gt.Channel); err != nil {
			o.logger.Debug("gateway reply arrived too late",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	task := &domain.Task{
		Prompt:  gt.Prompt,
		Options: gt.Options,
		Status:  domain.TaskPending,
		Source:  domain.SourceGateway,
		SourceMetadata: map[string]any{
			"channel":    gt.Channel,
			"chat_id":    gt.ChatID,
			"message_id": gt.MessageID,
		},
	}
	if err := o.SubmitTask(ctx, task, "gateway:"+gt.Channel); err != nil {
		var limited *domain.RateLimitExceededError
		if errors.As(err, &limited) {
			o.sendToGateway(ctx, gt.Channel, gt.ChatID, "Too many requests right now, try again shortly.")
			return nil
		}
		o.logger.Error("gateway task submission failed",
			slog.String("channel", gt.Channel),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return nil
}

// handleGatewayReg records a remote channel adapter coming online. When no
// notification chat is configured, the first announced chat becomes it.
func (o *Orchestrator) handleGatewayReg(ctx context.Context, msg bus.Message) error {
	var reg bus.GatewayRegister
	if err := json.Unmarshal(msg.Value, &reg); err != nil || reg.Channel == "" {
		return nil
	}
	o.mu.Lock()
	if o.notifyChatID == "" && reg.ChatID != "" {
		o.notifyChatID = reg.ChatID
	}
	o.mu.Unlock()
	o.logger.Info("gateway channel online",
		slog.String("channel", reg.Channel),
		slog.String("chat_id", reg.ChatID),
	)
	o.publishUI(ctx, "gateway.registered", reg)
	return nil
}

// sendToGateway publishes an outbound chat payload for the gateway process.
func (o *Orchestrator) sendToGateway(ctx context.Context, channel, chatID, text string) {
	evt := bus.GatewaySend{Channel: channel, ChatID: chatID, Text: text}
	if err := o.publish(ctx, bus.TopicGatewaySend, chatID, evt); err != nil {
		o.logger.Error("publish gateway send",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
