package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/poller"
	"github.com/ramiqadoumi/go-media-flow/internal/providers"
	"github.com/ramiqadoumi/go-media-flow/internal/registry"
	"github.com/ramiqadoumi/go-media-flow/internal/storage"
	"github.com/ramiqadoumi/go-media-flow/pkg/retry"
	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
)

var (
	// ErrShuttingDown is returned by Enqueue once Shutdown has started.
	ErrShuttingDown = errors.New("engine is shutting down")
	// ErrNoHistory is returned by List when no history source is configured.
	ErrNoHistory = errors.New("task history is not configured")
)

// Archive answers lookups for tasks no longer held in memory.
type Archive interface {
	Lookup(ctx context.Context, taskID string) (*domain.Task, error)
}

// History lists recently finalized tasks.
type History interface {
	ListRecent(ctx context.Context, limit int) ([]*domain.Task, error)
}

// Limiter admits or refuses new tasks per request kind.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

// Engine turns provider submit/poll/fetch APIs into a uniform task lifecycle.
type Engine struct {
	registry    *registry.Registry
	adapters    *providers.Registry
	coordinator *poller.Coordinator
	store       *storage.Local

	logger      *slog.Logger
	recorders   []namedRecorder
	recordRetry retry.Config
	archive     Archive
	history     History
	limiter     Limiter
	sem         chan struct{}
	thumbSize   int
	retention   time.Duration
	now         func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its pipelines.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithArchive sets the fallback QueryStatus consults after eviction.
func WithArchive(a Archive) Option { return func(e *Engine) { e.archive = a } }

// WithHistory sets the source List reads from.
func WithHistory(h History) Option { return func(e *Engine) { e.history = h } }

// WithLimiter sets the per-kind admission limiter applied by Enqueue.
func WithLimiter(l Limiter) Option { return func(e *Engine) { e.limiter = l } }

// WithThumbnails enables image thumbnails with the given longest edge. Zero disables them.
func WithThumbnails(size int) Option { return func(e *Engine) { e.thumbSize = size } }

// WithRetention sets how long finalized tasks stay in memory.
func WithRetention(d time.Duration) Option { return func(e *Engine) { e.retention = d } }

// WithClock overrides the time source used for artifact names.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithRecorder adds a sink that receives every status change.
func WithRecorder(name string, r Recorder) Option {
	return func(e *Engine) { e.recorders = append(e.recorders, namedRecorder{name: name, rec: r}) }
}

// WithRecordRetry overrides the retry policy applied to recorders.
func WithRecordRetry(cfg retry.Config) Option { return func(e *Engine) { e.recordRetry = cfg } }

// WithMaxConcurrent bounds the number of pipelines past PENDING. Zero means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = make(chan struct{}, n)
		} else {
			e.sem = nil
		}
	}
}

// New constructs an Engine with the given dependencies and options.
func New(
	reg *registry.Registry,
	adapters *providers.Registry,
	coordinator *poller.Coordinator,
	store *storage.Local,
	opts ...Option,
) *Engine {
	e := &Engine{
		registry:    reg,
		adapters:    adapters,
		coordinator: coordinator,
		store:       store,
		logger:      slog.Default(),
		recordRetry: retry.Config{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		retention:   time.Hour,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.base, e.cancel = context.WithCancel(context.Background())
	return e
}

// Enqueue validates the request, creates a PENDING task and starts its
// pipeline in the background. It never waits for the provider.
//
// Only boundary violations are returned: InvalidRequestKindError,
// InvalidRequestError, RateLimitExceededError and ErrShuttingDown.
func (e *Engine) Enqueue(ctx context.Context, kind string, payload []byte) (*domain.Task, error) {
	ctx, span := otel.Tracer("engine").Start(ctx, "engine.enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("task.kind", kind))

	reject := func(reason string, err error) (*domain.Task, error) {
		telemetry.TasksRejected.WithLabelValues(kind, reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return nil, err
	}

	adapter, err := e.adapters.Get(kind)
	if err != nil {
		return reject("unknown_kind", err)
	}
	req, err := domain.DecodeRequest(payload)
	if err != nil {
		return reject("invalid_request", err)
	}
	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, "enqueue:"+kind)
		if err != nil {
			// Fail open.
			e.logger.Warn("rate limiter unavailable, admitting request",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			return reject("rate_limited", &domain.RateLimitExceededError{Kind: kind, Limit: e.limiter.Limit()})
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return reject("shutting_down", ErrShuttingDown)
	}
	task := e.registry.Create(kind)
	e.wg.Add(1)
	e.mu.Unlock()

	span.SetAttributes(attribute.String("task.id", task.ID))
	telemetry.TasksEnqueued.WithLabelValues(kind).Inc()
	e.logger.Info("task enqueued",
		slog.String("task_id", task.ID),
		slog.String("kind", kind),
	)

	// The pipeline outlives the request; only its trace is carried over.
	runCtx := trace.ContextWithSpanContext(e.base, span.SpanContext())
	go e.run(runCtx, task, adapter, req)

	return task, nil
}

// QueryStatus returns the current record for id. Tasks evicted from memory
// are answered from the archive when one is configured.
func (e *Engine) QueryStatus(ctx context.Context, id string) (*domain.Task, error) {
	t, err := e.registry.Get(id)
	if err == nil {
		return t, nil
	}
	var nf *domain.TaskNotFoundError
	if e.archive == nil || !errors.As(err, &nf) {
		return nil, err
	}
	t, aerr := e.archive.Lookup(ctx, id)
	if aerr != nil {
		if errors.As(aerr, &nf) {
			return nil, aerr
		}
		e.logger.Warn("archive lookup failed", slog.String("task_id", id), slog.String("error", aerr.Error()))
		return nil, err
	}
	return t, nil
}

// FetchArtifact opens a materialized artifact by its path relative to the
// storage root. Unresolvable paths yield ArtifactNotFoundError.
func (e *Engine) FetchArtifact(localPath string) (*os.File, error) {
	return e.store.Open(localPath)
}

// List returns up to limit recently created tasks from the history source.
func (e *Engine) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	if e.history == nil {
		return nil, ErrNoHistory
	}
	tasks, err := e.history.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}
	return tasks, nil
}

// Kinds returns the request kinds the engine accepts.
func (e *Engine) Kinds() []string { return e.adapters.Kinds() }

// Shutdown stops accepting tasks and cancels in-flight pipelines, which
// finalize as FAILED with kind canceled. It waits for them or for ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}
