package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Engine ──────────────────────────────────────────────────────────────────

	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "engine",
		Name:      "tasks_enqueued_total",
		Help:      "Total tasks accepted by Enqueue.",
	}, []string{"kind"})

	TasksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "engine",
		Name:      "tasks_rejected_total",
		Help:      "Total enqueue calls refused before a task was created, labelled by reason.",
	}, []string{"kind", "reason"})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "engine",
		Name:      "tasks_finished_total",
		Help:      "Total tasks finalized, labelled by kind, terminal status and error kind.",
	}, []string{"kind", "status", "error_kind"})

	TasksInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mediaflow",
		Subsystem: "engine",
		Name:      "tasks_inflight",
		Help:      "Pipelines currently past the PENDING state.",
	}, []string{"kind"})

	TaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaflow",
		Subsystem: "engine",
		Name:      "task_duration_seconds",
		Help:      "Time from enqueue to a terminal status in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	TasksEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "engine",
		Name:      "tasks_evicted_total",
		Help:      "Total finalized tasks removed from memory by the retention sweep.",
	})

	RecorderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "engine",
		Name:      "recorder_errors_total",
		Help:      "Status changes a recorder failed to persist after all retries.",
	}, []string{"recorder"})

	// ─── Poller ──────────────────────────────────────────────────────────────────

	PollErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "poller",
		Name:      "poll_errors_total",
		Help:      "Poll calls that failed and were treated as inconclusive ticks.",
	}, []string{"provider"})

	PollDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaflow",
		Subsystem: "poller",
		Name:      "wait_duration_seconds",
		Help:      "Time spent polling a job until a terminal outcome.",
		Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"provider", "outcome"})

	// ─── Storage ─────────────────────────────────────────────────────────────────

	ArtifactBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "storage",
		Name:      "artifact_bytes_total",
		Help:      "Bytes materialized to local storage.",
	}, []string{"kind"})

	// ─── Ingest ──────────────────────────────────────────────────────────────────

	IngestMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "ingest",
		Name:      "messages_total",
		Help:      "Requests consumed from Kafka, labelled by outcome.",
	}, []string{"outcome"})

	IngestDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaflow",
		Subsystem: "ingest",
		Name:      "dlq_total",
		Help:      "Total requests sent to the DLQ (malformed or rejected).",
	})
)
