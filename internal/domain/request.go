package domain

import (
	"encoding/json"
	"strings"
)

// Request is the provider-neutral generation request. Adapters translate it
// into their own wire format and ignore fields they do not support.
type Request struct {
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	Model           string   `json:"model,omitempty"`
	Style           string   `json:"style,omitempty"`
	Size            string   `json:"size,omitempty"`
	Ratio           string   `json:"ratio,omitempty"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	Format          string   `json:"format,omitempty"`
	Quality         string   `json:"quality,omitempty"`
	ContentType     string   `json:"content_type,omitempty"`
	Duration        int      `json:"duration,omitempty"`
	FPS             int      `json:"fps,omitempty"`
	Steps           int      `json:"steps,omitempty"`
	GuidanceScale   *float64 `json:"guidance_scale,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
	NumOutputs      int      `json:"num_outputs,omitempty"`
	ImageURL        string   `json:"image_url,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"`

	// Document fields, used by the magazine-card kind.
	QRCodeURL          string `json:"qr_code_url,omitempty"`
	ProductImageURL    string `json:"product_image_url,omitempty"`
	ProductPrice       string `json:"product_price,omitempty"`
	ProductDescription string `json:"product_description,omitempty"`
}

// DecodeRequest parses a JSON payload into a Request and validates it.
func DecodeRequest(payload []byte) (*Request, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return nil, &InvalidRequestError{Reason: "payload is required"}
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &InvalidRequestError{Reason: "payload is not valid JSON: " + err.Error()}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks the provider-neutral shape of the request.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" && r.ImageURL == "" {
		return &InvalidRequestError{Field: "prompt", Reason: "prompt is required"}
	}
	if r.Width < 0 || r.Height < 0 {
		return &InvalidRequestError{Field: "width/height", Reason: "dimensions must not be negative"}
	}
	if r.NumOutputs < 0 {
		return &InvalidRequestError{Field: "num_outputs", Reason: "must not be negative"}
	}
	if r.Duration < 0 {
		return &InvalidRequestError{Field: "duration", Reason: "must not be negative"}
	}
	return nil
}
