package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/providers"
	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
)

// Applied when an adapter's policy leaves a field unset.
const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 5 * time.Minute
)

// Coordinator drives an adapter's Poll until the job is terminal or the
// adapter's deadline passes.
type Coordinator struct {
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for per-job poll diagnostics.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wait polls job immediately and then once per policy interval. It returns
// the artifact URLs on completion, ProviderFailureError when the provider
// reports failure and TimeoutError when the deadline passes first.
//
// A failed Poll call is an inconclusive tick. Only a terminal completed
// response is trusted to carry the final artifact list.
func (c *Coordinator) Wait(ctx context.Context, a providers.Adapter, job *domain.Job) ([]string, error) {
	if len(job.Ready) > 0 {
		return job.Ready, nil
	}

	policy := a.Policy()
	if policy.Interval <= 0 {
		policy.Interval = DefaultInterval
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultTimeout
	}
	ctx, span := otel.Tracer("poller").Start(ctx, "poller.wait")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", a.Name()),
		attribute.String("job.id", job.ExternalID),
		attribute.String("poll.interval", policy.Interval.String()),
		attribute.String("poll.timeout", policy.Timeout.String()),
	)

	log := c.logger.With(
		slog.String("provider", a.Name()),
		slog.String("job_id", job.ExternalID),
	)

	start := time.Now()
	// Every Poll runs under the deadline so a hung status request cannot
	// outlive the timeout.
	pollCtx, cancel := context.WithDeadline(ctx, start.Add(policy.Timeout))
	defer cancel()
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	timedOut := func() error {
		telemetry.PollDurationSeconds.WithLabelValues(a.Name(), "timeout").Observe(time.Since(start).Seconds())
		err := &domain.TimeoutError{Provider: a.Name(), JobID: job.ExternalID, Timeout: policy.Timeout}
		span.RecordError(err)
		span.SetStatus(codes.Error, "timeout")
		return err
	}
	cancelled := func() error {
		span.SetStatus(codes.Error, "cancelled")
		return fmt.Errorf("polling %s job %s: %w", a.Name(), job.ExternalID, ctx.Err())
	}

	polls := 0
	for {
		polls++
		res, err := a.Poll(pollCtx, job)
		if ctx.Err() != nil {
			return nil, cancelled()
		}
		// A response that arrives after the deadline is not trusted.
		if pollCtx.Err() != nil || time.Since(start) >= policy.Timeout {
			return nil, timedOut()
		}
		switch {
		case err != nil:
			telemetry.PollErrorsTotal.WithLabelValues(a.Name()).Inc()
			log.Warn("poll failed, waiting for next tick",
				slog.Int("poll", polls),
				slog.String("error", err.Error()),
			)
		case res.State == domain.PollCompleted:
			telemetry.PollDurationSeconds.WithLabelValues(a.Name(), "completed").Observe(time.Since(start).Seconds())
			span.SetAttributes(attribute.Int("poll.count", polls))
			if len(res.ArtifactURLs) == 0 {
				err := &domain.ProviderFailureError{Provider: a.Name(), JobID: job.ExternalID, Reason: "completed without artifacts"}
				span.RecordError(err)
				span.SetStatus(codes.Error, "empty result")
				return nil, err
			}
			log.Debug("job completed", slog.Int("polls", polls), slog.Int("artifacts", len(res.ArtifactURLs)))
			return res.ArtifactURLs, nil
		case res.State == domain.PollFailed:
			telemetry.PollDurationSeconds.WithLabelValues(a.Name(), "failed").Observe(time.Since(start).Seconds())
			err := &domain.ProviderFailureError{Provider: a.Name(), JobID: job.ExternalID, Reason: res.Reason}
			span.RecordError(err)
			span.SetStatus(codes.Error, "provider failure")
			return nil, err
		default:
			job.ProviderStatus = res.ProviderStatus
			log.Debug("job still running", slog.Int("poll", polls), slog.String("provider_status", res.ProviderStatus))
		}

		select {
		case <-ticker.C:
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, cancelled()
			}
			return nil, timedOut()
		}
	}
}
