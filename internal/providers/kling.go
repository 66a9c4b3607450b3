package providers

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

const (
	KlingImageKind = "kling-image"
	KlingVideoKind = "kling-video"

	klingBaseURL = "https://api.klingai.com"
)

// KlingImage generates images through Kling's synchronous endpoint. The URL
// arrives in the submit response, so the job is ready before the first poll.
type KlingImage struct {
	client *apiClient
	policy Policy
}

// NewKlingImage creates the kling-image adapter.
func NewKlingImage(cfg Config) *KlingImage {
	return &KlingImage{
		client: newAPIClient(KlingImageKind, klingBaseURL, cfg),
		policy: cfg.policy(Policy{Interval: 2 * time.Second, Timeout: 120 * time.Second}),
	}
}

func (a *KlingImage) Name() string   { return KlingImageKind }
func (a *KlingImage) Policy() Policy { return a.policy }

func (a *KlingImage) Submit(ctx context.Context, req *domain.Request) (*domain.Job, error) {
	guidance := 7.0
	if req.GuidanceScale != nil {
		guidance = *req.GuidanceScale
	}
	steps := req.Steps
	if steps <= 0 {
		steps = 25
	}
	payload := map[string]any{
		"prompt":         req.Prompt,
		"ratio":          orDefault(req.Ratio, "1:1"),
		"steps":          steps,
		"return_format":  "url",
		"model":          orDefault(req.Model, "kling-xi"),
		"guidance_scale": guidance,
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}
	if req.Style != "" && req.Style != "none" {
		payload["style"] = req.Style
	}

	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := a.client.submit(ctx, "/v1/images", payload, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, &domain.SubmissionError{Provider: KlingImageKind, StatusCode: 200, Message: "response missing url"}
	}
	return &domain.Job{
		Provider:       KlingImageKind,
		ExternalID:     resp.ID,
		ProviderStatus: "completed",
		Ready:          []string{resp.URL},
	}, nil
}

func (a *KlingImage) Poll(_ context.Context, job *domain.Job) (domain.PollResult, error) {
	if len(job.Ready) == 0 {
		return domain.PollResult{State: domain.PollFailed, Reason: "synchronous job carries no artifact"}, nil
	}
	return domain.PollResult{State: domain.PollCompleted, ProviderStatus: job.ProviderStatus, ArtifactURLs: job.Ready}, nil
}

func (a *KlingImage) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return a.client.fetch(ctx, url)
}

// KlingVideo generates videos from text, or from an image when ImageURL is set.
type KlingVideo struct {
	client *apiClient
	policy Policy
}

// NewKlingVideo creates the kling-video adapter.
func NewKlingVideo(cfg Config) *KlingVideo {
	return &KlingVideo{
		client: newAPIClient(KlingVideoKind, klingBaseURL, cfg),
		policy: cfg.policy(Policy{Interval: 5 * time.Second, Timeout: 300 * time.Second}),
	}
}

func (a *KlingVideo) Name() string   { return KlingVideoKind }
func (a *KlingVideo) Policy() Policy { return a.policy }

func (a *KlingVideo) Submit(ctx context.Context, req *domain.Request) (*domain.Job, error) {
	guidance := 7.0
	if req.GuidanceScale != nil {
		guidance = *req.GuidanceScale
	}
	steps := req.Steps
	if steps <= 0 {
		steps = 50
	}
	payload := map[string]any{
		"duration":            orDefaultInt(req.Duration, 3),
		"fps":                 orDefaultInt(req.FPS, 24),
		"guidance_scale":      guidance,
		"num_inference_steps": steps,
		"output_format":       orDefault(req.Format, "mp4"),
		"quality":             orDefault(req.Quality, "medium"),
	}
	if req.Prompt != "" {
		payload["prompt"] = req.Prompt
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}

	path := "/v1/text-to-video"
	if req.ImageURL != "" {
		path = "/v1/image-to-video"
		payload["image_url"] = req.ImageURL
		payload["model"] = orDefault(req.Model, "kling-i2v")
		payload["motion_bucket_id"] = 127
	} else {
		payload["model"] = orDefault(req.Model, "kling-svd")
		payload["width"] = orDefaultInt(req.Width, 512)
		payload["height"] = orDefaultInt(req.Height, 512)
		if req.Style != "" {
			payload["style"] = req.Style
		}
	}

	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := a.client.submit(ctx, path, payload, &resp); err != nil {
		return nil, err
	}
	if resp.TaskID == "" {
		return nil, &domain.SubmissionError{Provider: KlingVideoKind, StatusCode: 200, Message: "response missing task_id"}
	}
	return &domain.Job{Provider: KlingVideoKind, ExternalID: resp.TaskID, ProviderStatus: "pending"}, nil
}

func (a *KlingVideo) Poll(ctx context.Context, job *domain.Job) (domain.PollResult, error) {
	var s struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    string `json:"error"`
	}
	if err := a.client.get(ctx, "/v1/tasks/"+url.PathEscape(job.ExternalID), &s); err != nil {
		return domain.PollResult{}, err
	}
	switch s.Status {
	case "completed":
		var urls []string
		if s.VideoURL != "" {
			urls = []string{s.VideoURL}
		}
		return domain.PollResult{State: domain.PollCompleted, ProviderStatus: s.Status, ArtifactURLs: urls}, nil
	case "failed":
		reason := s.Error
		if reason == "" {
			reason = "unknown error"
		}
		return domain.PollResult{State: domain.PollFailed, ProviderStatus: s.Status, Reason: reason}, nil
	default:
		return domain.PollResult{State: domain.PollProcessing, ProviderStatus: s.Status}, nil
	}
}

func (a *KlingVideo) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return a.client.fetch(ctx, url)
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
