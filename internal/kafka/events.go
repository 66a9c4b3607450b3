package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

// TopicTaskEvents carries one event per task status change.
const TopicTaskEvents = "media.tasks.events"

// TaskEvent is the wire form of a status change.
type TaskEvent struct {
	TaskID     string            `json:"task_id"`
	Kind       string            `json:"kind"`
	Status     domain.Status     `json:"status"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  domain.ErrorKind  `json:"error_kind,omitempty"`
	Artifacts  []domain.Artifact `json:"artifacts,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewTaskEvent builds the event for the current state of t.
func NewTaskEvent(t *domain.Task) TaskEvent {
	ev := TaskEvent{
		TaskID:     t.ID,
		Kind:       t.Kind,
		Status:     t.Status,
		Error:      t.Error,
		ErrorKind:  t.ErrorKind,
		OccurredAt: t.UpdatedAt,
	}
	if t.Result != nil {
		ev.Artifacts = t.Result.Artifacts
	}
	return ev
}

// EventRecorder publishes task status changes, keyed by task id.
type EventRecorder struct {
	producer Producer
	topic    string
}

// NewEventRecorder publishes to topic, or TopicTaskEvents when topic is empty.
func NewEventRecorder(p Producer, topic string) *EventRecorder {
	if topic == "" {
		topic = TopicTaskEvents
	}
	return &EventRecorder{producer: p, topic: topic}
}

func (r *EventRecorder) Record(ctx context.Context, t *domain.Task) error {
	body, err := json.Marshal(NewTaskEvent(t))
	if err != nil {
		return fmt.Errorf("marshal event for task %s: %w", t.ID, err)
	}
	return r.producer.Publish(ctx, r.topic, t.ID, body)
}
