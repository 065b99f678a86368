package controlplane

import (
	"context"
	"log/slog"
	"time"

	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

// monitorHeartbeats periodically evicts executors whose heartbeats went
// stale. Desktop-only connections are exempt inside CheckHeartbeats itself.
func (o *Orchestrator) monitorHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(o.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range o.reg.CheckHeartbeats(o.heartbeatTimeout) {
				o.logger.Warn("executor heartbeat stale, evicting", slog.String("executor_id", id))
				telemetry.ExecutorsReaped.Inc()
				o.evict(ctx, id)
			}
		}
	}
}

// DeregisterExecutor is the synchronous disconnect path used by the API.
// Like the bus deregister path it keeps the desktop identity when one
// exists.
func (o *Orchestrator) DeregisterExecutor(ctx context.Context, id string) {
	o.evict(ctx, id)
}

// evict removes an executor that disconnected or went stale: its pending
// help requests are cancelled first so no caller waits on a dead peer, then
// the connection is downgraded to desktop-only when it has a desktop
// identity worth keeping, and removed entirely otherwise.
func (o *Orchestrator) evict(ctx context.Context, id string) {
	cancelled := o.help.CancelForExecutor(ctx, id)
	if len(cancelled) > 0 {
		o.logger.Info("cancelled help requests for evicted executor",
			slog.String("executor_id", id),
			slog.Int("count", len(cancelled)),
		)
	}

	conn, ok := o.reg.Get(id)
	if !ok {
		return
	}

	if conn.DesktopCapable() {
		if err := o.reg.DowngradeToDesktopOnly(id); err != nil {
			o.logger.Error("downgrade failed", slog.String("executor_id", id), slog.String("error", err.Error()))
		}
		o.publishUI(ctx, "executor.downgraded", map[string]string{"executor_id": id})
	} else {
		o.reg.Unregister(id)
		o.publishUI(ctx, "executor.removed", map[string]string{"executor_id": id})
	}

	o.endSession(ctx, id)
	telemetry.ExecutorsConnected.WithLabelValues(string(conn.Kind)).Set(float64(o.reg.Count(conn.Kind)))
}

func (o *Orchestrator) endSession(ctx context.Context, connID string) {
	if o.fleet == nil {
		return
	}
	completed, failed := o.takeStats(connID)
	if err := o.fleet.EndSession(ctx, connID, completed, failed); err != nil {
		o.logger.Error("end session record",
			slog.String("executor_id", connID),
			slog.String("error", err.Error()),
		)
	}
}
