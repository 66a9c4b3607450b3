package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

const (
	// DefaultTerminalTTL is how long a finalized task snapshot stays readable.
	DefaultTerminalTTL = 24 * time.Hour
	activeTTL          = time.Hour
)

func taskKey(taskID string) string { return "media:task:" + taskID }

// TaskMirror keeps a JSON snapshot of every task in Redis so status lookups
// keep working after the in-memory registry evicts a finalized task.
type TaskMirror struct {
	client      *redis.Client
	terminalTTL time.Duration
}

// NewTaskMirror creates a TaskMirror. A zero terminalTTL uses DefaultTerminalTTL.
func NewTaskMirror(client *redis.Client, terminalTTL time.Duration) *TaskMirror {
	if terminalTTL <= 0 {
		terminalTTL = DefaultTerminalTTL
	}
	return &TaskMirror{client: client, terminalTTL: terminalTTL}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// Record stores the snapshot of task. Terminal snapshots outlive active ones.
func (m *TaskMirror) Record(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	ttl := activeTTL
	if task.Status.IsTerminal() {
		ttl = m.terminalTTL
	}
	if err := m.client.Set(ctx, taskKey(task.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set task %s: %w", task.ID, err)
	}
	return nil
}

// Lookup returns the last recorded snapshot of taskID.
func (m *TaskMirror) Lookup(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := m.client.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("redis get task %s: %w", taskID, err)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// Ping reports whether Redis is reachable.
func (m *TaskMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
