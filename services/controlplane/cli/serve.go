package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/byt3bl33d3r/figaro-sub000/internal/bus"
	"github.com/byt3bl33d3r/figaro-sub000/internal/desktop"
	"github.com/byt3bl33d3r/figaro-sub000/internal/gateway"
	"github.com/byt3bl33d3r/figaro-sub000/internal/helpreq"
	"github.com/byt3bl33d3r/figaro-sub000/internal/postgres"
	redisstore "github.com/byt3bl33d3r/figaro-sub000/internal/redis"
	"github.com/byt3bl33d3r/figaro-sub000/internal/registry"
	"github.com/byt3bl33d3r/figaro-sub000/internal/scheduler"
	"github.com/byt3bl33d3r/figaro-sub000/internal/tasks"
	"github.com/byt3bl33d3r/figaro-sub000/internal/version"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
	"github.com/byt3bl33d3r/figaro-sub000/services/controlplane"
	"github.com/byt3bl33d3r/figaro-sub000/services/controlplane/api"
	"github.com/byt3bl33d3r/figaro-sub000/services/controlplane/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "", "Redis address (host:port); empty disables the state cache and rate limiter")
	serveCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN; empty runs memory-only with file-backed schedules")
	serveCmd.Flags().String("schedules-file", "schedules.json", "flat-file schedule store path (used when postgres is not configured)")
	serveCmd.Flags().Int("heartbeat-timeout-sec", 90, "seconds without a heartbeat before an executor is evicted")
	serveCmd.Flags().Int("help-timeout-sec", 300, "seconds before an unanswered help request times out")
	serveCmd.Flags().Bool("self-healing", false, "system-wide default for retrying failed tasks")
	serveCmd.Flags().Int("max-retries", 2, "maximum healer retries per task chain")
	serveCmd.Flags().Int("rate-limit", 30, "max task submissions per source per window (0 disables)")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("postgres_dsn", serveCmd.Flags(), "postgres-dsn")
	bindFlag("schedules_file", serveCmd.Flags(), "schedules-file")
	bindFlag("heartbeat_timeout_sec", serveCmd.Flags(), "heartbeat-timeout-sec")
	bindFlag("help_timeout_sec", serveCmd.Flags(), "help-timeout-sec")
	bindFlag("self_healing", serveCmd.Flags(), "self-healing")
	bindFlag("max_retries", serveCmd.Flags(), "max-retries")
	bindFlag("rate_limit", serveCmd.Flags(), "rate-limit")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("postgres_dsn", "POSTGRES_DSN")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "controlplane")
	logger.Info(version.String())

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "controlplane", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	producer := bus.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	reg := registry.New()

	// ── durable stores (optional) ─────────────────────────────────────────────
	taskOpts := []tasks.Option{tasks.WithLogger(logger)}
	var (
		fleetRepo     *postgres.FleetRepository
		helpRepo      *postgres.HelpRequestRepository
		scheduleStore scheduler.Store
	)
	if cfg.PostgresDSN != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		taskOpts = append(taskOpts, tasks.WithRepository(postgres.NewTaskRepository(pool)))
		fleetRepo = postgres.NewFleetRepository(pool)
		helpRepo = postgres.NewHelpRequestRepository(pool)
		scheduleStore = postgres.NewScheduleRepository(pool)
	} else {
		fileStore, err := scheduler.NewFileStore(cfg.SchedulesFile)
		if err != nil {
			return fmt.Errorf("schedule store: %w", err)
		}
		scheduleStore = fileStore
		logger.Warn("postgres not configured, running memory-only with file-backed schedules",
			slog.String("schedules_file", cfg.SchedulesFile),
		)
	}

	var limiter redisstore.RateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		taskOpts = append(taskOpts, tasks.WithStateStore(redisstore.NewStateStore(redisClient)))
		if cfg.RateLimit > 0 {
			window := time.Duration(cfg.RateLimitWindowSec) * time.Second
			if window <= 0 {
				window = time.Minute
			}
			limiter = redisstore.NewRateLimiter(redisClient, cfg.RateLimit, window)
		}
	}

	tm := tasks.NewManager(taskOpts...)

	// ── remote desktop ────────────────────────────────────────────────────────
	poolOpts := []desktop.PoolOption{desktop.WithPoolLogger(logger)}
	if cfg.DesktopIdleTTLSec > 0 {
		poolOpts = append(poolOpts, desktop.WithIdleTTL(time.Duration(cfg.DesktopIdleTTLSec)*time.Second))
	}
	sessionPool := desktop.NewPool(desktop.DriverDialers(), poolOpts...)
	commander := desktop.NewCommander(sessionPool, cfg.DesktopDefaultCreds)

	// ── orchestrator ──────────────────────────────────────────────────────────
	bridge := gateway.NewBridge(logger)
	if cfg.WebhookURL != "" {
		bridge.Register(gateway.NewWebhookChannel(cfg.WebhookURL))
	}

	orchOpts := []controlplane.Option{
		controlplane.WithLogger(logger),
		controlplane.WithSelfHealing(cfg.SelfHealing),
		controlplane.WithMaxRetries(cfg.MaxRetries),
		controlplane.WithDesktopCommander(commander),
		controlplane.WithNotifyChatID(cfg.NotifyChatID),
	}
	if cfg.HeartbeatTimeoutSec > 0 {
		orchOpts = append(orchOpts, controlplane.WithHeartbeatTimeout(time.Duration(cfg.HeartbeatTimeoutSec)*time.Second))
	}
	if cfg.HeartbeatIntervalSec > 0 {
		orchOpts = append(orchOpts, controlplane.WithHeartbeatInterval(time.Duration(cfg.HeartbeatIntervalSec)*time.Second))
	}
	if cfg.HelpTimeoutSec > 0 {
		orchOpts = append(orchOpts, controlplane.WithHelpTimeout(time.Duration(cfg.HelpTimeoutSec)*time.Second))
	}
	if cfg.AckTimeoutSec > 0 {
		orchOpts = append(orchOpts, controlplane.WithAckTimeout(time.Duration(cfg.AckTimeoutSec)*time.Second))
	}
	if limiter != nil {
		orchOpts = append(orchOpts, controlplane.WithRateLimiter(limiter))
	}
	if fleetRepo != nil {
		orchOpts = append(orchOpts, controlplane.WithFleetRepository(fleetRepo))
	}

	orch := controlplane.New(reg, tm, producer, bridge, orchOpts...)
	if helpRepo != nil {
		orch.SetHelpManager(helpreq.NewManager(orch,
			helpreq.WithRepository(helpRepo),
			helpreq.WithLogger(logger),
		))
	}

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger)}
	if cfg.SchedulerPollSec > 0 {
		schedOpts = append(schedOpts, scheduler.WithPollInterval(time.Duration(cfg.SchedulerPollSec)*time.Second))
	}
	sched := scheduler.NewService(scheduleStore, tm, reg, orch, schedOpts...)
	orch.SetScheduler(sched)

	// ── run ───────────────────────────────────────────────────────────────────
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	orch.Start(runCtx, func(topic, group string) bus.Consumer {
		return bus.NewConsumer(brokers, topic, group, logger)
	})
	go sched.Run(runCtx)
	go sessionPool.Sweep(runCtx)

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.New(orch, fleetRepo, logger).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // desktop screenshots can be slow
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("controlplane HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit
	logger.Info("shutting down...")
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	sessionPool.CloseAll()
	logger.Info("stopped")
	return nil
}
