package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/pkg/retry"
	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
)

// Recorder receives a snapshot after every status change of a task.
type Recorder interface {
	Record(ctx context.Context, task *domain.Task) error
}

type namedRecorder struct {
	name string
	rec  Recorder
}

const recordTimeout = 10 * time.Second

// record delivers t to every recorder in order. Failures are logged and
// counted; they never change the task outcome. Delivery survives shutdown
// so the final status of a cancelled task still reaches the sinks.
func (e *Engine) record(ctx context.Context, t *domain.Task) {
	if len(e.recorders) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	for _, r := range e.recorders {
		snapshot := t.Clone()
		cfg := e.recordRetry
		cfg.OnRetry = func(attempt int, err error) {
			e.logger.Debug("recorder attempt failed, retrying",
				slog.String("recorder", r.name),
				slog.String("task_id", t.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		err := retry.Do(ctx, cfg, func() error { return r.rec.Record(ctx, snapshot) })
		if err != nil {
			telemetry.RecorderErrorsTotal.WithLabelValues(r.name).Inc()
			e.logger.Warn("failed to record task status",
				slog.String("recorder", r.name),
				slog.String("task_id", t.ID),
				slog.String("status", string(t.Status)),
				slog.String("error", err.Error()),
			)
		}
	}
}
