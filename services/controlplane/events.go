package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/byt3bl33d3r/figaro-sub000/internal/bus"
	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

// handleHeartbeat processes the fire-and-forget liveness stream. Unknown
// clients carrying a client_type are auto-registered, which is how
// executors join after a control-plane restart without re-registering.
func (o *Orchestrator) handleHeartbeat(ctx context.Context, msg bus.Message) error {
	var hb bus.Heartbeat
	if err := json.Unmarshal(msg.Value, &hb); err != nil {
		o.logger.Error("malformed heartbeat, discarding", slog.String("error", err.Error()))
		return nil
	}
	if hb.ClientID == "" {
		return nil
	}

	err := o.reg.UpdateHeartbeat(hb.ClientID)
	var notFound *domain.ConnectionNotFoundError
	if errors.As(err, &notFound) {
		if hb.ClientType == "" {
			return nil // nothing to register it as
		}
		o.registerFromHeartbeat(ctx, hb)
	}

	if hb.Status == string(domain.StatusIdle) {
		if err := o.reg.SetStatus(hb.ClientID, domain.StatusIdle, ""); err == nil && o.tm.HasPending() {
			o.drainBacklog(ctx)
		}
	}
	return nil
}

func (o *Orchestrator) registerFromHeartbeat(ctx context.Context, hb bus.Heartbeat) {
	kind := domain.KindWorker
	if hb.ClientType == string(domain.KindSupervisor) {
		kind = domain.KindSupervisor
	}
	conn := &domain.Connection{
		ID:                hb.ClientID,
		Kind:              kind,
		Status:            domain.StatusIdle,
		Capabilities:      hb.Capabilities,
		RemoteDesktopAddr: hb.DesktopAddr,
	}
	o.reg.Register(conn)
	o.startSession(ctx, hb.ClientID, kind)
	telemetry.ExecutorsConnected.WithLabelValues(string(kind)).Set(float64(o.reg.Count(kind)))
	o.publishUI(ctx, "executor.registered", conn)
	o.logger.Info("executor auto-registered from heartbeat",
		slog.String("executor_id", hb.ClientID),
		slog.String("kind", string(kind)),
	)
}

// RegisterExecutor is the synchronous registration path used by the API.
func (o *Orchestrator) RegisterExecutor(ctx context.Context, conn *domain.Connection) {
	o.reg.Register(conn)
	o.startSession(ctx, conn.ID, conn.Kind)
	telemetry.ExecutorsConnected.WithLabelValues(string(conn.Kind)).Set(float64(o.reg.Count(conn.Kind)))
	o.publishUI(ctx, "executor.registered", conn)

	if o.tm.HasPending() {
		o.drainBacklog(ctx)
	}
}

func (o *Orchestrator) startSession(ctx context.Context, connID string, kind domain.ConnectionKind) {
	if o.fleet == nil {
		return
	}
	session := &domain.WorkerSession{
		ID:           uuid.New().String(),
		ConnectionID: connID,
		Kind:         kind,
		ConnectedAt:  o.now().UTC(),
	}
	if err := o.fleet.StartSession(ctx, session); err != nil {
		o.logger.Error("start session record",
			slog.String("executor_id", connID),
			slog.String("error", err.Error()),
		)
	}
}

// handleDeregister processes clean disconnects.
func (o *Orchestrator) handleDeregister(ctx context.Context, msg bus.Message) error {
	var dereg bus.Deregister
	if err := json.Unmarshal(msg.Value, &dereg); err != nil {
		o.logger.Error("malformed deregister, discarding", slog.String("error", err.Error()))
		return nil
	}
	if dereg.ClientID == "" {
		return nil
	}
	o.evict(ctx, dereg.ClientID)
	return nil
}

// handleTaskEvent processes the durable per-task event stream. Delivery is
// at-least-once; duplicate terminal events fail the monotonic transition
// check and are committed without effect.
func (o *Orchestrator) handleTaskEvent(ctx context.Context, msg bus.Message) error {
	var evt bus.TaskEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		o.logger.Error("malformed task event, discarding", slog.String("error", err.Error()))
		return nil
	}

	log := o.logger.With(
		slog.String("task_id", evt.TaskID),
		slog.String("kind", evt.Kind),
		slog.String("executor_id", evt.ExecutorID),
	)

	switch evt.Kind {
	case bus.TaskEventMessage:
		role := evt.Role
		if role == "" {
			role = "assistant"
		}
		if err := o.tm.AppendMessage(ctx, evt.TaskID, domain.TaskMessage{Role: role, Content: evt.Content}); err != nil {
			log.Warn("append message failed", slog.String("error", err.Error()))
			return nil
		}
		o.publishUI(ctx, "task.message", map[string]string{
			"task_id": evt.TaskID,
			"role":    role,
			"content": evt.Content,
		})

	case bus.TaskEventAssigned:
		if err := o.tm.Start(ctx, evt.TaskID); err != nil {
			log.Warn("start transition rejected", slog.String("error", err.Error()))
			return nil
		}
		o.publishUI(ctx, "task.started", map[string]string{
			"task_id":     evt.TaskID,
			"executor_id": evt.ExecutorID,
		})

	case bus.TaskEventComplete:
		if err := o.tm.Complete(ctx, evt.TaskID, evt.Result); err != nil {
			log.Warn("complete transition rejected", slog.String("error", err.Error()))
			return nil
		}
		telemetry.TasksCompleted.WithLabelValues("completed").Inc()
		o.addStat(evt.ExecutorID, 1, 0)
		o.finishTask(ctx, evt.TaskID, evt.ExecutorID, "")

	case bus.TaskEventError:
		if err := o.tm.Fail(ctx, evt.TaskID, evt.Error); err != nil {
			log.Warn("fail transition rejected", slog.String("error", err.Error()))
			return nil
		}
		telemetry.TasksCompleted.WithLabelValues("failed").Inc()
		o.addStat(evt.ExecutorID, 0, 1)
		o.finishTask(ctx, evt.TaskID, evt.ExecutorID, evt.Error)

	default:
		log.Warn("unknown task event kind, discarding")
	}
	return nil
}

// finishTask runs the shared post-terminal work: release the executor, run
// the healing or learning path, notify, and drain the backlog toward the
// newly idle worker.
func (o *Orchestrator) finishTask(ctx context.Context, taskID, executorID, errMsg string) {
	if executorID != "" {
		_ = o.reg.SetStatus(executorID, domain.StatusIdle, "")
	}

	task, err := o.tm.Get(ctx, taskID)
	if err == nil {
		if errMsg != "" {
			o.maybeHeal(ctx, task, errMsg)
		} else {
			o.maybeLearn(ctx, task)
			o.notifyCompletion(ctx, task)
		}
	}

	kind := "task.completed"
	if errMsg != "" {
		kind = "task.failed"
	}
	o.publishUI(ctx, kind, map[string]string{"task_id": taskID, "error": errMsg})

	o.drainBacklog(ctx)
}

// notifyCompletion pushes a completion notice to chat channels when the
// owning schedule asked for it.
func (o *Orchestrator) notifyCompletion(ctx context.Context, task *domain.Task) {
	stID := task.ScheduledTaskID()
	if stID == "" || o.sched == nil || o.bridge == nil || o.notifyChatID == "" {
		return
	}
	st, err := o.sched.Get(ctx, stID)
	if err != nil || !st.NotifyOnComplete {
		return
	}
	text := "Scheduled run finished: " + st.Name
	if task.Result != "" {
		text += "\n" + task.Result
	}
	o.bridge.Broadcast(ctx, o.notifyChatID, text)
}

// handleAck routes executor acks on the shared ack topic to whoever is
// blocked waiting on the correlation id. Late acks are dropped.
func (o *Orchestrator) handleAck(_ context.Context, msg bus.Message) error {
	var ack bus.Ack
	if err := json.Unmarshal(msg.Value, &ack); err != nil {
		o.logger.Error("malformed ack, discarding", slog.String("error", err.Error()))
		return nil
	}
	if !o.waiter.Deliver(ack) {
		o.logger.Debug("ack with no waiter",
			slog.String("correlation_id", ack.CorrelationID),
			slog.String("executor_id", ack.ExecutorID),
		)
	}
	return nil
}
