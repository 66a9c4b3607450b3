// Package ingest feeds generation requests from Kafka into the engine.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/engine"
	"github.com/ramiqadoumi/go-media-flow/internal/kafka"
	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
)

const (
	TopicRequests = "media.requests"
	TopicDLQ      = "media.requests.dlq"
)

// Enqueuer accepts a request for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload []byte) (*domain.Task, error)
}

// Request is the message body on TopicRequests.
type Request struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// DeadLetter wraps a request that could not be accepted.
type DeadLetter struct {
	ID       string          `json:"id"`
	Reason   string          `json:"reason"`
	Original json.RawMessage `json:"original"`
	FailedAt time.Time       `json:"failed_at"`
}

// Consumer drains TopicRequests into an Enqueuer.
type Consumer struct {
	consumer kafka.Consumer
	producer kafka.Producer
	engine   Enqueuer
	dlqTopic string
	logger   *slog.Logger
}

func New(consumer kafka.Consumer, producer kafka.Producer, eng Enqueuer, logger *slog.Logger) *Consumer {
	return &Consumer{
		consumer: consumer,
		producer: producer,
		engine:   eng,
		dlqTopic: TopicDLQ,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.consumer.Subscribe(ctx, c.handle)
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest.handle")
	defer span.End()

	var req Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.logger.Error("malformed request, sending to DLQ",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		span.SetStatus(codes.Error, "malformed request")
		telemetry.IngestMessagesTotal.WithLabelValues("malformed").Inc()
		return c.toDLQ(ctx, msg.Value, "malformed: "+err.Error())
	}
	span.SetAttributes(attribute.String("request.kind", req.Kind))

	task, err := c.engine.Enqueue(ctx, req.Kind, req.Payload)
	if err != nil {
		if !rejected(err) {
			// Transient: leave the offset uncommitted so the request is retried.
			span.RecordError(err)
			span.SetStatus(codes.Error, "enqueue failed")
			telemetry.IngestMessagesTotal.WithLabelValues("retry").Inc()
			return fmt.Errorf("enqueue %s: %w", req.Kind, err)
		}
		c.logger.Warn("request rejected, sending to DLQ",
			slog.String("kind", req.Kind),
			slog.String("error", err.Error()),
		)
		span.SetStatus(codes.Error, "rejected")
		telemetry.IngestMessagesTotal.WithLabelValues("rejected").Inc()
		return c.toDLQ(ctx, msg.Value, err.Error())
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	telemetry.IngestMessagesTotal.WithLabelValues("accepted").Inc()
	c.logger.Info("request accepted",
		slog.String("task_id", task.ID),
		slog.String("kind", req.Kind),
	)
	return nil
}

// rejected reports whether err is a permanent refusal of the request itself.
func rejected(err error) bool {
	var (
		kindErr  *domain.InvalidRequestKindError
		reqErr   *domain.InvalidRequestError
		limitErr *domain.RateLimitExceededError
	)
	if errors.Is(err, engine.ErrShuttingDown) {
		return false
	}
	return errors.As(err, &kindErr) || errors.As(err, &reqErr) || errors.As(err, &limitErr)
}

func (c *Consumer) toDLQ(ctx context.Context, original []byte, reason string) error {
	dl := DeadLetter{
		ID:       uuid.NewString(),
		Reason:   reason,
		Original: original,
		FailedAt: time.Now().UTC(),
	}
	if !json.Valid(original) {
		raw, _ := json.Marshal(string(original))
		dl.Original = raw
	}
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := c.producer.Publish(ctx, c.dlqTopic, dl.ID, body); err != nil {
		c.logger.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return err
	}
	telemetry.IngestDLQTotal.Inc()
	return nil
}
