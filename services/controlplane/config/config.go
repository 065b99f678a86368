package config

import "github.com/spf13/viper"

// Config holds typed configuration for the control-plane service.
type Config struct {
	LogLevel     string
	HTTPPort     string
	MetricsAddr  string
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string
	OTelEndpoint string

	SchedulesFile    string
	SchedulerPollSec int

	HeartbeatTimeoutSec  int
	HeartbeatIntervalSec int
	AckTimeoutSec        int
	HelpTimeoutSec       int

	SelfHealing bool
	MaxRetries  int

	RateLimit          int
	RateLimitWindowSec int

	DesktopDefaultCreds string
	DesktopIdleTTLSec   int

	NotifyChatID string
	WebhookURL   string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		HTTPPort:     v.GetString("http_port"),
		MetricsAddr:  v.GetString("metrics_addr"),
		KafkaBrokers: v.GetString("kafka_brokers"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		OTelEndpoint: v.GetString("otel_endpoint"),

		SchedulesFile:    v.GetString("schedules_file"),
		SchedulerPollSec: v.GetInt("scheduler_poll_sec"),

		HeartbeatTimeoutSec:  v.GetInt("heartbeat_timeout_sec"),
		HeartbeatIntervalSec: v.GetInt("heartbeat_interval_sec"),
		AckTimeoutSec:        v.GetInt("ack_timeout_sec"),
		HelpTimeoutSec:       v.GetInt("help_timeout_sec"),

		SelfHealing: v.GetBool("self_healing"),
		MaxRetries:  v.GetInt("max_retries"),

		RateLimit:          v.GetInt("rate_limit"),
		RateLimitWindowSec: v.GetInt("rate_limit_window_sec"),

		DesktopDefaultCreds: v.GetString("desktop_default_creds"),
		DesktopIdleTTLSec:   v.GetInt("desktop_idle_ttl_sec"),

		NotifyChatID: v.GetString("notify_chat_id"),
		WebhookURL:   v.GetString("webhook_url"),
	}
}
