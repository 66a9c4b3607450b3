package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

// HTTPDoer is the subset of *http.Client used by adapters.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxErrorBody caps how much of an error response is kept as the message.
const maxErrorBody = 64 << 10

// apiClient is the JSON transport shared by all adapters.
type apiClient struct {
	provider string
	baseURL  string
	apiKey   string
	http     HTTPDoer
	// download has no overall timeout; large videos are bounded by ctx instead.
	download HTTPDoer
}

func newAPIClient(provider, defaultBaseURL string, cfg Config) *apiClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	c := &apiClient{
		provider: provider,
		baseURL:  strings.TrimRight(base, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		download: &http.Client{},
	}
	if cfg.HTTPClient != nil {
		c.http = cfg.HTTPClient
		c.download = cfg.HTTPClient
	}
	return c
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", c.provider, err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// submit POSTs body to path and decodes the response into out. Transport
// failures and non-2xx responses come back as SubmissionError.
func (c *apiClient) submit(ctx context.Context, path string, body, out any) error {
	ctx, span := otel.Tracer("providers").Start(ctx, "provider.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", c.provider),
		attribute.String("http.path", path),
	)

	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return &domain.SubmissionError{Provider: c.provider, Message: err.Error()}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return &domain.SubmissionError{Provider: c.provider, Message: err.Error()}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &domain.SubmissionError{Provider: c.provider, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &domain.SubmissionError{Provider: c.provider, StatusCode: resp.StatusCode, Message: string(raw)}
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission rejected")
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.SubmissionError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("undecodable response %q: %v", raw, err),
		}
	}
	return nil
}

// get issues one GET and decodes the response into out. Errors here are
// inconclusive for the poller, so they are plain wrapped errors.
func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s GET %s: %w", c.provider, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s GET %s returned status %d: %s", c.provider, path, resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s status response: %w", c.provider, err)
	}
	return nil
}

// fetch opens a streaming download of url. The caller closes the body.
func (c *apiClient) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s returned status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
