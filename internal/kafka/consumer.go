package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// HandlerFunc processes one message. A nil return commits the offset; an
// error leaves it uncommitted so the message is redelivered.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer reads a topic as a member of a consumer group.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

type consumer struct {
	reader *segkafka.Reader
	logger *slog.Logger
}

// NewConsumer joins groupID on topic, starting from the earliest offset
// the group has not committed.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) Consumer {
	r := segkafka.NewReader(segkafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    segkafka.FirstOffset,
	})
	return &consumer{reader: r, logger: logger.With(slog.String("topic", topic))}
}

// Subscribe blocks, handing each message to handler until ctx is done.
// It returns nil on cancellation.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	tracer := otel.Tracer("kafka")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		msgCtx, span := tracer.Start(extractTrace(ctx, m.Headers), "kafka.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination.name", m.Topic),
				attribute.Int64("messaging.kafka.offset", m.Offset),
			),
		)
		err = handler(msgCtx, Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Time:      m.Time,
		})
		span.End()
		if err != nil {
			c.logger.Error("message handler failed, offset not committed",
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("failed to commit offset",
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *consumer) Close() error {
	return c.reader.Close()
}
