// Package controlplane wires the registry, task manager, scheduler and help
// request manager together behind the message bus. The Orchestrator is the
// only component that publishes assignments or reacts to executor events;
// the managers it drives stay bus-agnostic.
package controlplane

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/byt3bl33d3r/figaro-sub000/internal/bus"
	"github.com/byt3bl33d3r/figaro-sub000/internal/desktop"
	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/internal/gateway"
	"github.com/byt3bl33d3r/figaro-sub000/internal/helpreq"
	"github.com/byt3bl33d3r/figaro-sub000/internal/postgres"
	redisstore "github.com/byt3bl33d3r/figaro-sub000/internal/redis"
	"github.com/byt3bl33d3r/figaro-sub000/internal/registry"
	"github.com/byt3bl33d3r/figaro-sub000/internal/scheduler"
	"github.com/byt3bl33d3r/figaro-sub000/internal/tasks"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

type sessionStats struct {
	completed int
	failed    int
}

// Orchestrator applies assignment policy and runs the self-healing,
// self-learning and remote-desktop command paths.
type Orchestrator struct {
	reg      *registry.Registry
	tm       *tasks.Manager
	help     *helpreq.Manager
	sched    *scheduler.Service
	producer bus.Producer
	waiter   *bus.AckWaiter
	bridge   *gateway.Bridge
	limiter  redisstore.RateLimiter      // nil = unlimited intake
	fleet    *postgres.FleetRepository   // nil = no session accounting
	desktop  *desktop.Commander

	heartbeatTimeout  time.Duration
	heartbeatInterval time.Duration
	helpTimeout       time.Duration
	ackTimeout        time.Duration
	selfHealing       bool // system-wide default
	maxRetries        int
	notifyChatID      string

	mu    sync.Mutex
	stats map[string]*sessionStats // per connection id, reset per session

	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithHeartbeatTimeout(d time.Duration) Option  { return func(o *Orchestrator) { o.heartbeatTimeout = d } }
func WithHeartbeatInterval(d time.Duration) Option { return func(o *Orchestrator) { o.heartbeatInterval = d } }
func WithHelpTimeout(d time.Duration) Option       { return func(o *Orchestrator) { o.helpTimeout = d } }
func WithAckTimeout(d time.Duration) Option        { return func(o *Orchestrator) { o.ackTimeout = d } }
func WithSelfHealing(enabled bool) Option          { return func(o *Orchestrator) { o.selfHealing = enabled } }
func WithMaxRetries(n int) Option                  { return func(o *Orchestrator) { o.maxRetries = n } }
func WithRateLimiter(l redisstore.RateLimiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}
func WithFleetRepository(r *postgres.FleetRepository) Option {
	return func(o *Orchestrator) { o.fleet = r }
}
func WithDesktopCommander(c *desktop.Commander) Option {
	return func(o *Orchestrator) { o.desktop = c }
}
func WithNotifyChatID(id string) Option { return func(o *Orchestrator) { o.notifyChatID = id } }
func WithLogger(l *slog.Logger) Option  { return func(o *Orchestrator) { o.logger = l } }

// New constructs the Orchestrator. The scheduler is attached afterwards via
// SetScheduler because it needs the orchestrator as its Assigner.
func New(
	reg *registry.Registry,
	tm *tasks.Manager,
	producer bus.Producer,
	bridge *gateway.Bridge,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		reg:               reg,
		tm:                tm,
		producer:          producer,
		bridge:            bridge,
		waiter:            bus.NewAckWaiter(),
		heartbeatTimeout:  90 * time.Second,
		heartbeatInterval: 30 * time.Second,
		helpTimeout:       5 * time.Minute,
		ackTimeout:        5 * time.Second,
		selfHealing:       false,
		maxRetries:        2,
		stats:             make(map[string]*sessionStats),
		logger:            slog.Default(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.help = helpreq.NewManager(o, helpreq.WithLogger(o.logger))
	return o
}

// SetScheduler attaches the scheduler service after construction. It is not
// safe to call once Start has run.
func (o *Orchestrator) SetScheduler(s *scheduler.Service) { o.sched = s }

// SetHelpManager replaces the help manager, used when a persistence-backed
// one is wired at startup. Not safe after Start.
func (o *Orchestrator) SetHelpManager(m *helpreq.Manager) { o.help = m }

// Help exposes the help request manager to the API layer.
func (o *Orchestrator) Help() *helpreq.Manager { return o.help }

// Registry exposes the connection registry to the API layer.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Tasks exposes the task manager to the API layer.
func (o *Orchestrator) Tasks() *tasks.Manager { return o.tm }

// Scheduler exposes the scheduler service to the API layer.
func (o *Orchestrator) Scheduler() *scheduler.Service { return o.sched }

// Desktop exposes the remote-desktop commander to the API layer.
func (o *Orchestrator) Desktop() *desktop.Commander { return o.desktop }

// AckWaiter exposes the waiter so the ack consumer can deliver into it.
func (o *Orchestrator) AckWaiter() *bus.AckWaiter { return o.waiter }

// HelpTimeout returns the configured help request timeout.
func (o *Orchestrator) HelpTimeout() time.Duration { return o.helpTimeout }

// consumerSpec binds a topic to its handler for Start.
type consumerSpec struct {
	topic   string
	group   string
	handler bus.HandlerFunc
}

// Start restores persisted desktop workers, then launches the bus consumers
// and the heartbeat monitor. newConsumer abstracts consumer construction so
// tests can substitute in-memory pipes. Start returns immediately; all
// loops exit when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context, newConsumer func(topic, group string) bus.Consumer) {
	o.restoreDesktopWorkers(ctx)

	specs := []consumerSpec{
		{bus.TopicHeartbeat, "controlplane-heartbeat", o.handleHeartbeat},
		{bus.TopicDeregister, "controlplane-deregister", o.handleDeregister},
		{bus.TopicTaskEvents, "controlplane-task-events", o.handleTaskEvent},
		{bus.TopicAcks, "controlplane-acks", o.handleAck},
		{bus.TopicHelpRequest, "controlplane-help", o.handleHelpRequest},
		{bus.TopicGatewayTask, "controlplane-gateway", o.handleGatewayTask},
		{bus.TopicGatewayReg, "controlplane-gateway-reg", o.handleGatewayReg},
	}
	for _, spec := range specs {
		consumer := newConsumer(spec.topic, spec.group)
		go func(spec consumerSpec, c bus.Consumer) {
			defer c.Close()
			if err := c.Subscribe(ctx, spec.handler); err != nil {
				o.logger.Error("consumer stopped",
					slog.String("topic", spec.topic),
					slog.String("error", err.Error()),
				)
			}
		}(spec, consumer)
	}

	go o.monitorHeartbeats(ctx)
	o.registerChannelReplies()
}

// restoreDesktopWorkers reloads persisted desktop-only machines so they are
// reachable for remote-desktop commands after a restart.
func (o *Orchestrator) restoreDesktopWorkers(ctx context.Context) {
	if o.fleet == nil {
		return
	}
	workers, err := o.fleet.ListDesktopWorkers(ctx)
	if err != nil {
		o.logger.Error("restore desktop workers", slog.String("error", err.Error()))
		return
	}
	for _, w := range workers {
		o.reg.RegisterDesktopOnly(w.ID, w.Addr, w.Creds)
	}
	if len(workers) > 0 {
		o.logger.Info("desktop workers restored", slog.Int("count", len(workers)))
	}
}

// publishUI broadcasts a state change for UI consumers. Best-effort.
func (o *Orchestrator) publishUI(ctx context.Context, kind string, payload any) {
	evt := bus.UIEvent{Kind: kind, Payload: payload, Timestamp: o.now().UTC()}
	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := o.producer.Publish(ctx, bus.TopicUIEvents, kind, raw); err != nil {
		o.logger.Debug("ui event publish failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

// publish marshals and publishes, logging failures.
func (o *Orchestrator) publish(ctx context.Context, topic, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return o.producer.Publish(ctx, topic, key, raw)
}

// SubmitTask is the common intake path for API- and gateway-sourced tasks.
// Intake is rate limited per source key; the task is created, then handed
// to the assignment policy.
func (o *Orchestrator) SubmitTask(ctx context.Context, task *domain.Task, sourceKey string) error {
	if o.limiter != nil {
		allowed, err := o.limiter.Allow(ctx, sourceKey)
		if err != nil {
			// Redis being down must not stop task intake.
			o.logger.Error("rate limiter check failed, allowing",
				slog.String("source", sourceKey),
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			telemetry.APIRateLimitedTotal.Inc()
			return &domain.RateLimitExceededError{Source: sourceKey, Limit: o.limiter.Limit()}
		}
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if err := o.tm.Create(ctx, task); err != nil {
		return err
	}
	telemetry.APITasksSubmitted.WithLabelValues(string(task.Source)).Inc()
	o.publishUI(ctx, "task.created", task)

	_, _, err := o.Delegate(ctx, task)
	return err
}

func (o *Orchestrator) addStat(connID string, completed, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stats[connID]
	if !ok {
		s = &sessionStats{}
		o.stats[connID] = s
	}
	s.completed += completed
	s.failed += failed
}

func (o *Orchestrator) takeStats(connID string) (completed, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.stats[connID]; ok {
		completed, failed = s.completed, s.failed
		delete(o.stats, connID)
	}
	return completed, failed
}

// SetClock overrides the time source. Tests only.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }
