package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/engine"
	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service is the engine surface the REST layer needs.
type Service interface {
	Enqueue(ctx context.Context, kind string, payload []byte) (*domain.Task, error)
	QueryStatus(ctx context.Context, id string) (*domain.Task, error)
	FetchArtifact(localPath string) (*os.File, error)
	List(ctx context.Context, limit int) ([]*domain.Task, error)
	Kinds() []string
}

// REST handles HTTP requests.
type REST struct {
	svc    Service
	checks map[string]telemetry.ReadinessCheck
	logger *slog.Logger
}

// NewREST creates a REST handler. checks back /readyz.
func NewREST(svc Service, checks map[string]telemetry.ReadinessCheck, logger *slog.Logger) *REST {
	return &REST{svc: svc, checks: checks, logger: logger}
}

// Mount registers every route on r.
func (h *REST) Mount(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", h.SubmitTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/generate/{kind}", h.Generate)
		r.Get("/files/*", h.GetFile)
		r.Get("/kinds", h.ListKinds)
	})
}

// SubmitTaskRequest is the JSON body for POST /api/v1/tasks.
type SubmitTaskRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitTaskResponse is the 202 response body.
type SubmitTaskResponse struct {
	TaskID    string        `json:"task_id"`
	Status    domain.Status `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// SubmitTask handles POST /api/v1/tasks.
func (h *REST) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBodyError(w, err)
		return
	}
	if strings.TrimSpace(req.Kind) == "" {
		writeError(w, http.StatusBadRequest, "field 'kind' is required")
		return
	}
	h.enqueue(w, r, req.Kind, req.Payload)
}

// Generate handles POST /api/v1/generate/{kind}; the body is the payload.
func (h *REST) Generate(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	h.enqueue(w, r, chi.URLParam(r, "kind"), payload)
}

func (h *REST) enqueue(w http.ResponseWriter, r *http.Request, kind string, payload []byte) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("task.kind", kind))

	task, err := h.svc.Enqueue(ctx, kind, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue rejected")
		h.logger.Info("task rejected", slog.String("kind", kind), slog.String("error", err.Error()))
		writeServiceError(w, err)
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	writeJSON(w, http.StatusAccepted, SubmitTaskResponse{
		TaskID:    task.ID,
		Status:    task.Status,
		CreatedAt: task.CreatedAt,
	})
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.svc.QueryStatus(r.Context(), id)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("query status failed", slog.String("task_id", id), slog.String("error", err.Error()))
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /api/v1/tasks?limit=N.
func (h *REST) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	tasks, err := h.svc.List(r.Context(), limit)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("list tasks failed", slog.String("error", err.Error()))
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// GetFile handles GET /api/v1/files/*, streaming a materialized artifact.
func (h *REST) GetFile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	f, err := h.svc.FetchArtifact(rel)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	http.ServeContent(w, r, path.Base(rel), info.ModTime(), f)
}

// ListKinds handles GET /api/v1/kinds.
func (h *REST) ListKinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"kinds": h.svc.Kinds()})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz, running every configured dependency check.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", slog.String("check", name), slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		notFound    *domain.TaskNotFoundError
		noArtifact  *domain.ArtifactNotFoundError
		badKind     *domain.InvalidRequestKindError
		badRequest  *domain.InvalidRequestError
		rateLimited *domain.RateLimitExceededError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noArtifact):
		return http.StatusNotFound
	case errors.As(err, &badKind), errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrShuttingDown), errors.Is(err, engine.ErrNoHistory):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
