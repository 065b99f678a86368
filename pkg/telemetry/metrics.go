package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API ─────────────────────────────────────────────────────────────────────

	APITasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "api",
		Name:      "tasks_submitted_total",
		Help:      "Total tasks submitted, labelled by source.",
	}, []string{"source"})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total task submissions rejected by the rate limiter.",
	})

	// ─── Orchestrator ────────────────────────────────────────────────────────────

	TasksDelegated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "orchestrator",
		Name:      "tasks_delegated_total",
		Help:      "Tasks handed to an executor, labelled by executor kind.",
	}, []string{"kind"})

	TasksQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "orchestrator",
		Name:      "tasks_queued_total",
		Help:      "Tasks placed on the backlog because no executor was free.",
	})

	BacklogDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "figaro",
		Subsystem: "orchestrator",
		Name:      "backlog_depth",
		Help:      "Tasks currently waiting on the backlog.",
	})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "orchestrator",
		Name:      "tasks_completed_total",
		Help:      "Tasks that reached a terminal state, labelled by status.",
	}, []string{"status"})

	HealingRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "orchestrator",
		Name:      "healing_runs_total",
		Help:      "Follow-up tasks created by the self-healing path.",
	})

	LearningRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "orchestrator",
		Name:      "learning_runs_total",
		Help:      "Optimizer tasks created by the self-learning path.",
	})

	ExecutorsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "figaro",
		Subsystem: "orchestrator",
		Name:      "executors_connected",
		Help:      "Currently registered executors, labelled by kind.",
	}, []string{"kind"})

	ExecutorsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "orchestrator",
		Name:      "executors_reaped_total",
		Help:      "Executors removed after missing heartbeats.",
	})

	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Scheduled task executions.",
	})

	SchedulerTasksSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "scheduler",
		Name:      "tasks_spawned_total",
		Help:      "Tasks created by scheduled executions, including fan-out copies.",
	})

	// ─── Help requests ───────────────────────────────────────────────────────────

	HelpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "help",
		Name:      "requests_total",
		Help:      "Help requests by terminal outcome.",
	}, []string{"outcome"})

	// ─── Remote desktop ──────────────────────────────────────────────────────────

	DesktopCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "figaro",
		Subsystem: "desktop",
		Name:      "commands_total",
		Help:      "Remote desktop commands, labelled by command and result.",
	}, []string{"command", "status"})

	DesktopPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "figaro",
		Subsystem: "desktop",
		Name:      "pool_size",
		Help:      "Open connections held by the desktop pool.",
	})
)
