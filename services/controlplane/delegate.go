package controlplane

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/byt3bl33d3r/figaro-sub000/internal/bus"
	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

// Delegate applies the assignment policy: supervisors first, verified live
// by a ping round-trip; then direct workers; then the backlog. A supervisor
// that fails its ping is removed from the registry and the next candidate
// is tried, so one dead supervisor never wedges delegation.
func (o *Orchestrator) Delegate(ctx context.Context, task *domain.Task) (executorID string, queued bool, err error) {
	conn := o.claimLiveExecutor(ctx)
	if conn == nil {
		o.tm.Queue(task.ID)
		telemetry.TasksQueued.Inc()
		telemetry.BacklogDepth.Set(float64(o.tm.BacklogDepth()))
		o.publishUI(ctx, "task.queued", map[string]string{"task_id": task.ID})
		o.logger.Info("no executor available, task queued", slog.String("task_id", task.ID))
		return "", true, nil
	}

	if err := o.Assign(ctx, task, conn); err != nil {
		o.reg.Release(conn.ID)
		o.tm.Queue(task.ID)
		telemetry.TasksQueued.Inc()
		telemetry.BacklogDepth.Set(float64(o.tm.BacklogDepth()))
		return "", true, err
	}
	return conn.ID, false, nil
}

// claimLiveExecutor claims an idle executor under the assignment policy:
// supervisors first, each verified live by a ping round-trip, then direct
// workers. A supervisor that fails its ping is removed from the registry
// and the next candidate is tried. Returns nil when nobody is free.
func (o *Orchestrator) claimLiveExecutor(ctx context.Context) *domain.Connection {
	for {
		conn := o.reg.ClaimIdleSupervisor()
		if conn == nil {
			break
		}
		if o.pingExecutor(ctx, conn.ID) {
			return conn
		}
		o.logger.Warn("supervisor failed liveness ping, removing",
			slog.String("executor_id", conn.ID),
		)
		o.evict(ctx, conn.ID)
	}
	return o.reg.ClaimIdleWorker()
}

// Assign binds an already-claimed connection to the task and publishes the
// assignment command. Implements scheduler.Assigner.
func (o *Orchestrator) Assign(ctx context.Context, task *domain.Task, conn *domain.Connection) error {
	sessionID := uuid.New().String()
	if err := o.tm.Assign(ctx, task.ID, conn.ID, sessionID); err != nil {
		return err
	}
	if err := o.reg.SetStatus(conn.ID, domain.StatusBusy, task.ID); err != nil {
		return err
	}

	assigned, err := o.tm.Get(ctx, task.ID)
	if err != nil {
		assigned = task
	}
	cmd := bus.AssignCommand{
		Kind:          bus.AssignCmdTask,
		CorrelationID: sessionID,
		ExecutorID:    conn.ID,
		Task:          assigned,
	}
	if err := o.publish(ctx, bus.TopicAssign, conn.ID, cmd); err != nil {
		return err
	}

	telemetry.TasksDelegated.WithLabelValues(string(conn.Kind)).Inc()
	o.publishUI(ctx, "task.assigned", map[string]string{
		"task_id":     task.ID,
		"executor_id": conn.ID,
	})
	o.logger.Info("task assigned",
		slog.String("task_id", task.ID),
		slog.String("executor_id", conn.ID),
		slog.String("kind", string(conn.Kind)),
	)
	return nil
}

// pingExecutor sends a liveness ping and waits for the ack round-trip.
func (o *Orchestrator) pingExecutor(ctx context.Context, executorID string) bool {
	correlationID := uuid.New().String()
	cmd := bus.AssignCommand{
		Kind:          bus.AssignCmdPing,
		CorrelationID: correlationID,
		ExecutorID:    executorID,
	}
	if err := o.publish(ctx, bus.TopicAssign, executorID, cmd); err != nil {
		o.logger.Error("ping publish failed",
			slog.String("executor_id", executorID),
			slog.String("error", err.Error()),
		)
		return false
	}
	ack, ok := o.waiter.Wait(ctx, correlationID, o.ackTimeout)
	return ok && ack.OK
}

// drainBacklog hands queued tasks to idle executors, oldest first, under
// the same supervisor-then-worker claim Delegate uses. When nobody is free
// the popped task goes back to the head of the queue so its position is
// preserved, and the drain stops.
func (o *Orchestrator) drainBacklog(ctx context.Context) {
	for {
		id := o.tm.NextPending()
		if id == "" {
			break
		}
		task, err := o.tm.Get(ctx, id)
		if err != nil {
			o.logger.Warn("dropping unknown task from backlog", slog.String("task_id", id))
			continue
		}
		if task.Status.IsTerminal() {
			continue
		}

		conn := o.claimLiveExecutor(ctx)
		if conn == nil {
			o.tm.Requeue(id)
			break
		}
		if err := o.Assign(ctx, task, conn); err != nil {
			o.logger.Error("backlog assignment failed",
				slog.String("task_id", id),
				slog.String("executor_id", conn.ID),
				slog.String("error", err.Error()),
			)
			o.reg.Release(conn.ID)
			o.tm.Requeue(id)
			break
		}
	}
	telemetry.BacklogDepth.Set(float64(o.tm.BacklogDepth()))
}
