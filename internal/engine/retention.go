package engine

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
)

// Sweep evicts finalized tasks older than the retention window from memory.
func (e *Engine) Sweep() int {
	n := e.registry.Evict(e.retention)
	if n > 0 {
		telemetry.TasksEvicted.Add(float64(n))
		e.logger.Info("evicted finalized tasks",
			slog.Int("count", n),
			slog.String("retention", e.retention.String()),
			slog.Int("remaining", e.registry.Len()),
		)
	}
	return n
}

// StartRetention runs Sweep on the given cron schedule (for example
// "@every 1m"). The returned function stops the schedule and waits for a
// running sweep to finish.
func (e *Engine) StartRetention(schedule string) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { e.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	c.Start()
	e.logger.Info("retention sweep scheduled",
		slog.String("schedule", schedule),
		slog.String("retention", e.retention.String()),
	)
	return func() { <-c.Stop().Done() }, nil
}
