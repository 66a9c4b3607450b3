package providers

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

const (
	MiniMaxiImageKind = "minimaxi-image"
	MiniMaxiVideoKind = "minimaxi-video"

	minimaxiBaseURL = "https://api.minimaxi.com/v1"
)

// minimaxiStatus is the status payload shared by image and video queries.
type minimaxiStatus struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	VideoURL string `json:"video_url"`
	Images   []struct {
		URL string `json:"url"`
	} `json:"images"`
}

type minimaxiSubmitResponse struct {
	TaskID string `json:"task_id"`
}

// pollState maps the MiniMaxi vocabulary: "success" and "failed" are
// terminal, anything else means the job is still running.
func (s minimaxiStatus) pollState(urls []string) domain.PollResult {
	switch s.Status {
	case "success":
		return domain.PollResult{State: domain.PollCompleted, ProviderStatus: s.Status, ArtifactURLs: urls}
	case "failed":
		reason := s.Message
		if reason == "" {
			reason = "unknown error"
		}
		return domain.PollResult{State: domain.PollFailed, ProviderStatus: s.Status, Reason: reason}
	default:
		return domain.PollResult{State: domain.PollProcessing, ProviderStatus: s.Status}
	}
}

func submitMiniMaxi(ctx context.Context, c *apiClient, path string, payload map[string]any) (*domain.Job, error) {
	var resp minimaxiSubmitResponse
	if err := c.submit(ctx, path, payload, &resp); err != nil {
		return nil, err
	}
	if resp.TaskID == "" {
		return nil, &domain.SubmissionError{Provider: c.provider, StatusCode: 200, Message: "response missing task_id"}
	}
	return &domain.Job{Provider: c.provider, ExternalID: resp.TaskID}, nil
}

// MiniMaxiImage generates still images through the MiniMaxi async API.
type MiniMaxiImage struct {
	client *apiClient
	policy Policy
}

// NewMiniMaxiImage creates the minimaxi-image adapter.
func NewMiniMaxiImage(cfg Config) *MiniMaxiImage {
	return &MiniMaxiImage{
		client: newAPIClient(MiniMaxiImageKind, minimaxiBaseURL, cfg),
		policy: cfg.policy(Policy{Interval: 2 * time.Second, Timeout: 180 * time.Second}),
	}
}

func (a *MiniMaxiImage) Name() string   { return MiniMaxiImageKind }
func (a *MiniMaxiImage) Policy() Policy { return a.policy }

func (a *MiniMaxiImage) Submit(ctx context.Context, req *domain.Request) (*domain.Job, error) {
	payload := map[string]any{
		"prompt": req.Prompt,
		"model":  orDefault(req.Model, "minimaxi-drawing"),
		"format": orDefault(req.Format, "png"),
		"n":      max(req.NumOutputs, 1),
	}
	if req.Width > 0 && req.Height > 0 {
		payload["width"] = req.Width
		payload["height"] = req.Height
	} else {
		payload["size"] = orDefault(req.Size, "1024x1024")
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.Style != "" && req.Style != "none" {
		payload["style"] = req.Style
	}
	if req.GuidanceScale != nil {
		payload["guidance_scale"] = *req.GuidanceScale
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}
	if len(req.ReferenceImages) > 0 {
		payload["reference_images"] = req.ReferenceImages
	}
	return submitMiniMaxi(ctx, a.client, "/images/generation", payload)
}

func (a *MiniMaxiImage) Poll(ctx context.Context, job *domain.Job) (domain.PollResult, error) {
	var s minimaxiStatus
	if err := a.client.get(ctx, "/images/generation/"+url.PathEscape(job.ExternalID), &s); err != nil {
		return domain.PollResult{}, err
	}
	urls := make([]string, 0, len(s.Images))
	for _, img := range s.Images {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	return s.pollState(urls), nil
}

func (a *MiniMaxiImage) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return a.client.fetch(ctx, url)
}

// MiniMaxiVideo generates short videos through the MiniMaxi async API.
type MiniMaxiVideo struct {
	client *apiClient
	policy Policy
}

// NewMiniMaxiVideo creates the minimaxi-video adapter.
func NewMiniMaxiVideo(cfg Config) *MiniMaxiVideo {
	return &MiniMaxiVideo{
		client: newAPIClient(MiniMaxiVideoKind, minimaxiBaseURL, cfg),
		policy: cfg.policy(Policy{Interval: 5 * time.Second, Timeout: 600 * time.Second}),
	}
}

func (a *MiniMaxiVideo) Name() string   { return MiniMaxiVideoKind }
func (a *MiniMaxiVideo) Policy() Policy { return a.policy }

func (a *MiniMaxiVideo) Submit(ctx context.Context, req *domain.Request) (*domain.Job, error) {
	payload := map[string]any{
		"prompt":  req.Prompt,
		"quality": orDefault(req.Quality, "medium"),
		"format":  orDefault(req.Format, "mp4"),
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	images := req.ReferenceImages
	if req.ImageURL != "" {
		images = append([]string{req.ImageURL}, images...)
	}
	if len(images) > 0 {
		payload["images"] = images
	}
	if req.Duration > 0 {
		payload["duration"] = req.Duration
	}
	if req.ContentType != "" {
		payload["content_type"] = req.ContentType
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}
	return submitMiniMaxi(ctx, a.client, "/videos/generation", payload)
}

func (a *MiniMaxiVideo) Poll(ctx context.Context, job *domain.Job) (domain.PollResult, error) {
	var s minimaxiStatus
	if err := a.client.get(ctx, "/videos/generation/"+url.PathEscape(job.ExternalID), &s); err != nil {
		return domain.PollResult{}, err
	}
	var urls []string
	if s.VideoURL != "" {
		urls = []string{s.VideoURL}
	}
	return s.pollState(urls), nil
}

func (a *MiniMaxiVideo) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return a.client.fetch(ctx, url)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
