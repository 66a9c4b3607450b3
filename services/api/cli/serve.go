package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-media-flow/internal/engine"
	"github.com/ramiqadoumi/go-media-flow/internal/ingest"
	"github.com/ramiqadoumi/go-media-flow/internal/kafka"
	"github.com/ramiqadoumi/go-media-flow/internal/poller"
	"github.com/ramiqadoumi/go-media-flow/internal/postgres"
	"github.com/ramiqadoumi/go-media-flow/internal/providers"
	redisstore "github.com/ramiqadoumi/go-media-flow/internal/redis"
	"github.com/ramiqadoumi/go-media-flow/internal/registry"
	"github.com/ramiqadoumi/go-media-flow/internal/storage"
	"github.com/ramiqadoumi/go-media-flow/internal/version"
	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-media-flow/services/api/config"
	"github.com/ramiqadoumi/go-media-flow/services/api/handler"
	"github.com/ramiqadoumi/go-media-flow/services/api/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the generation engine",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("http-port", "8080", "HTTP server port")
	f.String("metrics-addr", ":9095", "Prometheus metrics server address")
	f.Duration("shutdown-timeout", 30*time.Second, "grace period for in-flight tasks on shutdown")
	f.String("storage-dir", "./data/media", "directory artifacts are materialized into")
	f.Int("max-concurrent", 8, "pipelines allowed past PENDING at once; 0 = unbounded")
	f.Int("thumbnail-size", 256, "thumbnail longest edge in pixels; 0 disables")
	f.Duration("retention", time.Hour, "how long finalized tasks stay in memory")
	f.String("retention-schedule", "@every 1m", "cron schedule of the retention sweep")
	f.Duration("poll-interval", 0, "poll interval override for every provider")
	f.Duration("poll-timeout", 0, "poll deadline override for every provider")
	f.String("minimaxi-base-url", "", "MiniMaxi API base URL")
	f.String("kling-base-url", "", "Kling API base URL")
	f.String("document-base-url", "", "OpenAI-compatible chat API base URL used to render magazine cards")
	f.String("document-model", "", "chat model used to render magazine cards")
	f.String("redis-addr", "", "Redis address (host:port); empty disables the mirror and rate limiting")
	f.Duration("mirror-ttl", 24*time.Hour, "how long finalized tasks stay in the Redis mirror")
	f.Int("rate-limit", 60, "requests admitted per kind per window; 0 disables")
	f.Duration("rate-window", time.Minute, "rate limit window")
	f.String("postgres-dsn", "", "PostgreSQL DSN; empty disables history")
	f.String("kafka-brokers", "", "comma-separated Kafka brokers; empty disables events and ingest")
	f.String("kafka-group", "mediaflow", "consumer group for request ingest")
	f.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	f.Float64("trace-sample-ratio", 1, "fraction of traces sampled")

	for _, b := range [][2]string{
		{"http_port", "http-port"},
		{"metrics_addr", "metrics-addr"},
		{"shutdown_timeout", "shutdown-timeout"},
		{"storage_dir", "storage-dir"},
		{"max_concurrent", "max-concurrent"},
		{"thumbnail_size", "thumbnail-size"},
		{"retention", "retention"},
		{"retention_schedule", "retention-schedule"},
		{"poll_interval", "poll-interval"},
		{"poll_timeout", "poll-timeout"},
		{"minimaxi_base_url", "minimaxi-base-url"},
		{"kling_base_url", "kling-base-url"},
		{"document_base_url", "document-base-url"},
		{"document_model", "document-model"},
		{"redis_addr", "redis-addr"},
		{"mirror_ttl", "mirror-ttl"},
		{"rate_limit", "rate-limit"},
		{"rate_window", "rate-window"},
		{"postgres_dsn", "postgres-dsn"},
		{"kafka_brokers", "kafka-brokers"},
		{"kafka_group", "kafka-group"},
		{"otel_endpoint", "otel-endpoint"},
		{"trace_sample_ratio", "trace-sample-ratio"},
	} {
		bindFlag(b[0], f, b[1])
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, serviceName)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Endpoint:       cfg.OTelEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	store, err := storage.NewLocal(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	adapters := buildAdapters(cfg, logger)

	var (
		opts    []engine.Option
		closers []io.Closer
		checks  = map[string]telemetry.ReadinessCheck{}
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()
	opts = append(opts,
		engine.WithLogger(logger),
		engine.WithMaxConcurrent(cfg.MaxConcurrent),
		engine.WithThumbnails(cfg.ThumbnailSize),
		engine.WithRetention(cfg.Retention),
	)

	// ── Redis: task mirror + admission limiter ───────────────────────────────
	if cfg.RedisAddr != "" {
		client := redisstore.NewClient(cfg.RedisAddr)
		closers = append(closers, client)
		mirror := redisstore.NewTaskMirror(client, cfg.MirrorTTL)
		opts = append(opts, engine.WithRecorder("redis", mirror), engine.WithArchive(mirror))
		checks["redis"] = mirror.Ping
		if cfg.RateLimit > 0 {
			opts = append(opts, engine.WithLimiter(redisstore.NewRateLimiter(client, cfg.RateLimit, cfg.RateWindow)))
		}
		logger.Info("redis enabled", slog.String("addr", cfg.RedisAddr), slog.Int("rate_limit", cfg.RateLimit))
	}

	// ── PostgreSQL: audit trail + history ────────────────────────────────────
	if cfg.PostgresDSN != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		repo := postgres.NewRepository(pool)
		opts = append(opts, engine.WithRecorder("postgres", repo), engine.WithHistory(repo))
		checks["postgres"] = repo.Ping
		logger.Info("postgres enabled")
	}

	// ── Kafka: task events ───────────────────────────────────────────────────
	var producer kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := kafka.EnsureTopics(initCtx, cfg.KafkaBrokers, kafka.TopicTaskEvents, ingest.TopicRequests, ingest.TopicDLQ)
		cancel()
		if err != nil {
			logger.Warn("could not create kafka topics", slog.String("error", err.Error()))
		}
		producer = kafka.NewProducer(cfg.KafkaBrokers)
		closers = append(closers, producer)
		opts = append(opts, engine.WithRecorder("kafka", kafka.NewEventRecorder(producer, "")))
		logger.Info("kafka enabled", slog.Any("brokers", cfg.KafkaBrokers))
	}

	eng := engine.New(
		registry.New(),
		adapters,
		poller.New(poller.WithLogger(logger)),
		store,
		opts...,
	)

	stopRetention, err := eng.StartRetention(cfg.RetentionSchedule)
	if err != nil {
		return err
	}
	defer stopRetention()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// ── Kafka: request ingest ────────────────────────────────────────────────
	ingestDone := make(chan struct{})
	if producer != nil {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, ingest.TopicRequests, cfg.ConsumerGroup, logger)
		closers = append(closers, consumer)
		ing := ingest.New(consumer, producer, eng, logger.With(slog.String("component", "ingest")))
		go func() {
			defer close(ingestDone)
			if err := ing.Run(runCtx); err != nil {
				logger.Error("ingest stopped", slog.String("error", err.Error()))
			}
		}()
	} else {
		close(ingestDone)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20))
	handler.NewREST(eng, checks, logger).Mount(r)

	httpSrv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Artifact downloads stream large videos.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// ── Prometheus metrics ───────────────────────────────────────────────────
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, checks, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logger.Info("mediaflow HTTP starting",
			slog.String("addr", httpSrv.Addr),
			slog.Any("kinds", eng.Kinds()),
			slog.String("storage_dir", store.Root()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")
	runCancel()
	<-ingestDone

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	if err := eng.Shutdown(shutCtx); err != nil {
		logger.Error("engine shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}

// buildAdapters registers every provider. A provider without an API key
// is still registered; its submissions fail with the provider's auth error.
func buildAdapters(cfg config.Config, logger *slog.Logger) *providers.Registry {
	minimaxi := providers.Config{
		BaseURL:      cfg.MiniMaxi.BaseURL,
		APIKey:       cfg.MiniMaxi.APIKey,
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.PollTimeout,
	}
	kling := providers.Config{
		BaseURL:      cfg.Kling.BaseURL,
		APIKey:       cfg.Kling.APIKey,
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.PollTimeout,
	}
	document := providers.Config{
		BaseURL:      cfg.Document.BaseURL,
		APIKey:       cfg.Document.APIKey,
		Model:        cfg.DocumentModel,
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.PollTimeout,
	}
	if minimaxi.APIKey == "" {
		logger.Warn("minimaxi_api_key is not set")
	}
	if kling.APIKey == "" {
		logger.Warn("kling_api_key is not set")
	}
	if document.APIKey == "" {
		logger.Warn("document_api_key is not set")
	}

	reg := providers.NewRegistry()
	reg.Register(providers.NewMiniMaxiImage(minimaxi))
	reg.Register(providers.NewMiniMaxiVideo(minimaxi))
	reg.Register(providers.NewKlingImage(kling))
	reg.Register(providers.NewKlingVideo(kling))
	reg.Register(providers.NewMagazineCard(document))
	return reg
}
