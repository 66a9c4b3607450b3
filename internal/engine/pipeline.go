package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/providers"
	"github.com/ramiqadoumi/go-media-flow/internal/registry"
	"github.com/ramiqadoumi/go-media-flow/internal/storage"
	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
)

// run executes submit, poll, fetch and materialize for one task. Every
// error ends in a FAILED record; nothing escapes this goroutine.
func (e *Engine) run(ctx context.Context, task *domain.Task, adapter providers.Adapter, req *domain.Request) {
	defer e.wg.Done()

	log := e.logger.With(
		slog.String("task_id", task.ID),
		slog.String("kind", task.Kind),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			e.fail(ctx, log, task, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	e.record(ctx, task)

	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			e.fail(ctx, log, task, fmt.Errorf("waiting for a pipeline slot: %w", ctx.Err()))
			return
		}
	}

	telemetry.TasksInFlight.WithLabelValues(task.Kind).Inc()
	defer telemetry.TasksInFlight.WithLabelValues(task.Kind).Dec()

	ctx, span := otel.Tracer("engine").Start(ctx, "engine.pipeline")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.kind", task.Kind),
	)

	processing, err := e.registry.Update(task.ID, registry.Change{Status: domain.StatusProcessing})
	if err != nil {
		log.Error("failed to mark task processing", slog.String("error", err.Error()))
		return
	}
	e.record(ctx, processing)

	artifacts, err := e.execute(ctx, log, task, adapter, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		e.fail(ctx, log, task, err)
		return
	}

	done, err := e.registry.Update(task.ID, registry.Change{
		Status: domain.StatusCompleted,
		Result: &domain.Result{Artifacts: artifacts},
	})
	if err != nil {
		log.Error("failed to complete task", slog.String("error", err.Error()))
		return
	}
	e.finished(done)
	log.Info("task completed",
		slog.Int("artifacts", len(artifacts)),
		slog.Int64("duration_ms", done.CompletedAt.Sub(done.CreatedAt).Milliseconds()),
	)
	e.record(ctx, done)
}

// execute runs the provider steps strictly in sequence.
func (e *Engine) execute(ctx context.Context, log *slog.Logger, task *domain.Task, adapter providers.Adapter, req *domain.Request) ([]domain.Artifact, error) {
	job, err := adapter.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Info("job submitted",
		slog.String("provider", adapter.Name()),
		slog.String("job_id", job.ExternalID),
	)

	urls, err := e.coordinator.Wait(ctx, adapter, job)
	if err != nil {
		return nil, err
	}

	return e.materialize(ctx, task, adapter, urls)
}

// materialize downloads every artifact of a batch. The batch is all or
// nothing: on the first failure the files already written are removed.
func (e *Engine) materialize(ctx context.Context, task *domain.Task, adapter providers.Adapter, urls []string) ([]domain.Artifact, error) {
	now := e.now()
	artifacts := make([]domain.Artifact, 0, len(urls))
	var written []string

	for i, u := range urls {
		a, err := e.transfer(ctx, task, adapter, i, u, now)
		if err != nil {
			if rmErr := e.store.Remove(written...); rmErr != nil {
				e.logger.Warn("failed to discard partial batch",
					slog.String("task_id", task.ID),
					slog.String("error", rmErr.Error()),
				)
			}
			return nil, &domain.ArtifactTransferError{Index: i, URL: u, Err: err}
		}
		written = append(written, a.LocalPath)
		if a.Thumbnail != "" {
			written = append(written, a.Thumbnail)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (e *Engine) transfer(ctx context.Context, task *domain.Task, adapter providers.Adapter, index int, url string, now time.Time) (domain.Artifact, error) {
	ctx, span := otel.Tracer("engine").Start(ctx, "engine.materialize")
	defer span.End()
	span.SetAttributes(attribute.Int("artifact.index", index))

	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}
	body, err := adapter.Fetch(ctx, url)
	if err != nil {
		span.RecordError(err)
		return domain.Artifact{}, err
	}
	defer body.Close()

	stored, err := e.store.Materialize(ctx, body, storage.ArtifactName(task.ID, index, url, now))
	if err != nil {
		span.RecordError(err)
		return domain.Artifact{}, err
	}
	telemetry.ArtifactBytesTotal.WithLabelValues(task.Kind).Add(float64(stored.Bytes))
	span.SetAttributes(attribute.Int64("artifact.bytes", stored.Bytes))

	a := domain.Artifact{
		Index:     index,
		RemoteURL: url,
		LocalPath: stored.Path,
		Bytes:     stored.Bytes,
		SHA256:    stored.SHA256,
	}
	if e.thumbSize > 0 && storage.CanThumbnail(stored.Path) {
		thumb, err := e.store.Thumbnail(stored.Path, e.thumbSize)
		if err != nil {
			e.logger.Warn("thumbnail failed",
				slog.String("task_id", task.ID),
				slog.String("path", stored.Path),
				slog.String("error", err.Error()),
			)
		} else {
			a.Thumbnail = thumb
		}
	}
	return a, nil
}

// fail finalizes task as FAILED. Once the pipeline context is cancelled the
// kind is canceled, whichever layer surfaced the error.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, task *domain.Task, cause error) {
	kind := domain.KindOf(cause)
	if ctx.Err() != nil {
		kind = domain.ErrorKindCanceled
	}

	failed, err := e.registry.Update(task.ID, registry.Change{
		Status:    domain.StatusFailed,
		Error:     cause.Error(),
		ErrorKind: kind,
	})
	if err != nil {
		log.Error("failed to mark task failed",
			slog.String("error", err.Error()),
			slog.String("cause", cause.Error()),
		)
		return
	}
	e.finished(failed)
	log.Error("task failed",
		slog.String("error_kind", string(kind)),
		slog.String("error", cause.Error()),
	)
	e.record(ctx, failed)
}

func (e *Engine) finished(t *domain.Task) {
	telemetry.TasksFinished.WithLabelValues(t.Kind, string(t.Status), string(t.ErrorKind)).Inc()
	telemetry.TaskDurationSeconds.WithLabelValues(t.Kind).Observe(t.CompletedAt.Sub(t.CreatedAt).Seconds())
}
