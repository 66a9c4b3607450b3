package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/engine"
	"github.com/ramiqadoumi/go-media-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-media-flow/services/api/middleware"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeService struct {
	enqueueErr error
	lastKind   string
	lastBody   string

	tasks   map[string]*domain.Task
	history []*domain.Task
	listErr error
	limit   int

	root string
}

func (s *fakeService) Enqueue(_ context.Context, kind string, payload []byte) (*domain.Task, error) {
	s.lastKind, s.lastBody = kind, string(payload)
	if s.enqueueErr != nil {
		return nil, s.enqueueErr
	}
	return &domain.Task{
		ID:        "task-1",
		Kind:      kind,
		Status:    domain.StatusPending,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (s *fakeService) QueryStatus(_ context.Context, id string) (*domain.Task, error) {
	if t, ok := s.tasks[id]; ok {
		return t, nil
	}
	return nil, &domain.TaskNotFoundError{TaskID: id}
}

func (s *fakeService) FetchArtifact(rel string) (*os.File, error) {
	if s.root == "" || strings.Contains(rel, "..") {
		return nil, &domain.ArtifactNotFoundError{Path: rel}
	}
	f, err := os.Open(filepath.Join(s.root, rel))
	if err != nil {
		return nil, &domain.ArtifactNotFoundError{Path: rel}
	}
	return f, nil
}

func (s *fakeService) List(_ context.Context, limit int) ([]*domain.Task, error) {
	s.limit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.history, nil
}

func (s *fakeService) Kinds() []string { return []string{"kling-image", "minimaxi-image"} }

// ── helpers ──────────────────────────────────────────────────────────────────

func newRouter(svc Service, checks map[string]telemetry.ReadinessCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.MaxBodySize(1 << 10))
	NewREST(svc, checks, slog.Default()).Mount(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestSubmitTask_Accepted(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newRouter(svc, nil), http.MethodPost, "/api/v1/tasks",
		`{"kind":"minimaxi-image","payload":{"prompt":"a lighthouse"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SubmitTaskResponse
	decode(t, rec, &resp)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.Equal(t, domain.StatusPending, resp.Status)
	assert.Equal(t, "minimaxi-image", svc.lastKind)
	assert.JSONEq(t, `{"prompt":"a lighthouse"}`, svc.lastBody)
}

func TestGenerate_BodyIsPayload(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newRouter(svc, nil), http.MethodPost, "/api/v1/generate/kling-video", `{"prompt":"waves"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "kling-video", svc.lastKind)
	assert.Equal(t, `{"prompt":"waves"}`, svc.lastBody)
}

func TestSubmitTask_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"malformed body", `{`, nil, http.StatusBadRequest},
		{"missing kind", `{"payload":{}}`, nil, http.StatusBadRequest},
		{"unknown kind", `{"kind":"x","payload":{}}`, &domain.InvalidRequestKindError{Kind: "x"}, http.StatusBadRequest},
		{"invalid payload", `{"kind":"kling-image","payload":{}}`, &domain.InvalidRequestError{Field: "prompt", Reason: "prompt is required"}, http.StatusBadRequest},
		{"rate limited", `{"kind":"kling-image","payload":{}}`, &domain.RateLimitExceededError{Kind: "kling-image", Limit: 1}, http.StatusTooManyRequests},
		{"shutting down", `{"kind":"kling-image","payload":{}}`, engine.ErrShuttingDown, http.StatusServiceUnavailable},
		{"unexpected", `{"kind":"kling-image","payload":{}}`, errors.New("boom"), http.StatusInternalServerError},
		{"too large", `{"kind":"kling-image","payload":"` + strings.Repeat("x", 2048) + `"}`, nil, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newRouter(&fakeService{enqueueErr: tc.err}, nil), http.MethodPost, "/api/v1/tasks", tc.body)

			assert.Equal(t, tc.code, rec.Code)
			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
			if tc.code == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"])
			}
		})
	}
}

func TestGetTask(t *testing.T) {
	done := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)
	svc := &fakeService{tasks: map[string]*domain.Task{
		"t-1": {
			ID:          "t-1",
			Kind:        "minimaxi-image",
			Status:      domain.StatusCompleted,
			CreatedAt:   done.Add(-time.Minute),
			UpdatedAt:   done,
			CompletedAt: &done,
			Result: &domain.Result{Artifacts: []domain.Artifact{
				{Index: 0, RemoteURL: "https://cdn/a.png", LocalPath: "2024/05/01/t-1_0.png", Bytes: 4, SHA256: "ff"},
			}},
		},
	}}
	h := newRouter(svc, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/tasks/t-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	decode(t, rec, &got)
	assert.Equal(t, "t-1", got["task_id"])
	assert.Equal(t, "COMPLETED", got["status"])
	assert.NotContains(t, got, "error")
	artifacts := got["result"].(map[string]any)["artifacts"].([]any)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "2024/05/01/t-1_0.png", artifacts[0].(map[string]any)["local_path"])

	rec = do(t, h, http.MethodGet, "/api/v1/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks(t *testing.T) {
	svc := &fakeService{history: []*domain.Task{{ID: "a"}, {ID: "b"}}}
	h := newRouter(svc, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultListLimit, svc.limit)
	var body struct {
		Tasks []domain.Task `json:"tasks"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Tasks, 2)

	do(t, h, http.MethodGet, "/api/v1/tasks?limit=500", "")
	assert.Equal(t, maxListLimit, svc.limit)

	rec = do(t, h, http.MethodGet, "/api/v1/tasks?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, newRouter(&fakeService{listErr: engine.ErrNoHistory}, nil), http.MethodGet, "/api/v1/tasks", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024/05/01"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2024/05/01/t-1_0.png"), []byte("\x89PNGdata"), 0o644))
	h := newRouter(&fakeService{root: root}, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/files/2024/05/01/t-1_0.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "\x89PNGdata", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/api/v1/files/2024/05/01/missing.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/files/2024/05/01", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListKinds(t *testing.T) {
	rec := do(t, newRouter(&fakeService{}, nil), http.MethodGet, "/api/v1/kinds", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"kinds":["kling-image","minimaxi-image"]}`, rec.Body.String())
}

func TestProbes(t *testing.T) {
	healthy := map[string]telemetry.ReadinessCheck{
		"redis": func(context.Context) error { return nil },
	}
	rec := do(t, newRouter(&fakeService{}, healthy), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := map[string]telemetry.ReadinessCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}
	h := newRouter(&fakeService{}, failing)
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("postgres not ready")))

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
