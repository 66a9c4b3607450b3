package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the mediaflow service.
type Config struct {
	LogLevel        string
	HTTPPort        string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	StorageDir        string
	MaxConcurrent     int
	ThumbnailSize     int
	Retention         time.Duration
	RetentionSchedule string

	// Poll overrides; zero keeps each provider's own default.
	PollInterval time.Duration
	PollTimeout  time.Duration

	MiniMaxi Provider
	Kling    Provider

	// Document is the OpenAI-compatible chat endpoint that renders cards.
	Document      Provider
	DocumentModel string

	RedisAddr  string
	MirrorTTL  time.Duration
	RateLimit  int
	RateWindow time.Duration

	PostgresDSN string

	KafkaBrokers  []string
	ConsumerGroup string

	OTelEndpoint     string
	TraceSampleRatio float64
}

// Provider is the endpoint and credential for one provider family.
type Provider struct {
	BaseURL string
	APIKey  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		HTTPPort:        v.GetString("http_port"),
		MetricsAddr:     v.GetString("metrics_addr"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),

		StorageDir:        v.GetString("storage_dir"),
		MaxConcurrent:     v.GetInt("max_concurrent"),
		ThumbnailSize:     v.GetInt("thumbnail_size"),
		Retention:         v.GetDuration("retention"),
		RetentionSchedule: v.GetString("retention_schedule"),

		PollInterval: v.GetDuration("poll_interval"),
		PollTimeout:  v.GetDuration("poll_timeout"),

		MiniMaxi: Provider{
			BaseURL: v.GetString("minimaxi_base_url"),
			APIKey:  v.GetString("minimaxi_api_key"),
		},
		Kling: Provider{
			BaseURL: v.GetString("kling_base_url"),
			APIKey:  v.GetString("kling_api_key"),
		},
		Document: Provider{
			BaseURL: v.GetString("document_base_url"),
			APIKey:  v.GetString("document_api_key"),
		},
		DocumentModel: v.GetString("document_model"),

		RedisAddr:  v.GetString("redis_addr"),
		MirrorTTL:  v.GetDuration("mirror_ttl"),
		RateLimit:  v.GetInt("rate_limit"),
		RateWindow: v.GetDuration("rate_window"),

		PostgresDSN: v.GetString("postgres_dsn"),

		KafkaBrokers:  splitList(v.GetString("kafka_brokers")),
		ConsumerGroup: v.GetString("kafka_group"),

		OTelEndpoint:     v.GetString("otel_endpoint"),
		TraceSampleRatio: v.GetFloat64("trace_sample_ratio"),
	}
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
