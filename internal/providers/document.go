package providers

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

const (
	MagazineCardKind = "magazine-card"

	documentBaseURL = "https://api.deepseek.com"
	documentModel   = "deepseek-chat"
	documentScheme  = "document"
)

// magazineStyles maps each card style to the art direction given to the model.
var magazineStyles = map[string]string{
	"minimalist":          "Minimalist: generous white space, two or three neutral colours, a strict grid and sans-serif type. Content is the focus.",
	"bold_modern":         "Bold modern: asymmetric layout, vivid contrasting colours, oversized headlines of at least 60px and sharp geometric shapes.",
	"elegant_vintage":     "Elegant vintage: paper-toned background, serif type, symmetric layout, ornamental borders and faded photo treatment.",
	"futuristic_tech":     "Futuristic tech: black or deep blue background, neon accents, monospace type, HUD frames and subtle scan-line motion.",
	"scandinavian":        "Scandinavian: white background with pale blue, light grey and natural wood tones, light geometric sans-serif type.",
	"art_deco":            "Art deco: black and #D4AF37 gold, strict symmetry, fan and chevron ornaments, geometric display type.",
	"japanese_minimalism": "Japanese minimalism: at least seventy percent empty space, ink tones, vertical asymmetric layout and one single accent mark.",
	"punk":                "Punk: photocopied collage texture, torn edges, hand-cut lettering, high contrast black, white and red.",
	"memphis_design":      "Memphis design: playful primary colours, squiggles, dots and clashing geometric shapes on flat backgrounds.",
	"cyberpunk":           "Cyberpunk: dark urban palette with magenta and cyan glow, glitch effects and dense overlapping interface fragments.",
	"pop_art":             "Pop art: halftone dots, thick black outlines, saturated primary colours and comic speech-bubble accents.",
	"vaporwave":           "Vaporwave: pastel pink and teal gradients, retro computer graphics, marble busts and chrome lettering.",
	"bauhaus":             "Bauhaus: primary colours, circles, squares and triangles on a grid, functional sans-serif type.",
	"victorian":           "Victorian: rich burgundy and gold, engraved ornaments, decorative serif type and framed panels.",
	"constructivism":      "Constructivism: red, black and cream, diagonal compositions, bold sans-serif type and photomontage.",
}

// MagazineStyles returns the card style ids in sorted order.
func MagazineStyles() []string {
	out := make([]string, 0, len(magazineStyles))
	for s := range magazineStyles {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

const magazinePrompt = `You are the art director of a high-end fashion magazine and an expert front-end developer.
Design a single knowledge card as a complete HTML5 document in a luxury magazine layout.

Design style:
%s

The card must contain a date area, a title and subtitle, a quote block, a list of key points,
a product showcase with image, price and short description, a QR code area and an editor's note.

Technical requirements:
* Use HTML5, Tailwind CSS 2.2.19 and Font Awesome 6 from a CDN, with CSS variables for colours and spacing.
* The card is 440px wide and no more than 1280px high.
* Distil the content into key points or a single core quote.
* Write the copy in Chinese; decorative accents may use other languages.
* QR code image (if given): %s
* Product image (if given): %s
* Product price: %s
* Product description: %s

Return only the HTML document, with all CSS and JavaScript inline.

Content:
%s`

// MagazineCard renders a styled HTML card from free text through an
// OpenAI-compatible chat completion endpoint. The document is produced by
// the submit call and held in memory until the engine fetches it, so the
// job is ready before the first poll.
type MagazineCard struct {
	client *apiClient
	policy Policy
	model  string
	now    func() time.Time

	mu       sync.Mutex
	rendered map[string]renderedDoc
}

type renderedDoc struct {
	html string
	at   time.Time
}

// NewMagazineCard creates the magazine-card adapter.
func NewMagazineCard(cfg Config) *MagazineCard {
	c := newAPIClient(MagazineCardKind, documentBaseURL, cfg)
	if cfg.HTTPClient == nil {
		// Generating a full document routinely takes longer than a status call.
		c.http = &http.Client{Timeout: 3 * time.Minute}
	}
	return &MagazineCard{
		client:   c,
		policy:   cfg.policy(Policy{Interval: time.Second, Timeout: 5 * time.Minute}),
		model:    orDefault(cfg.Model, documentModel),
		now:      time.Now,
		rendered: make(map[string]renderedDoc),
	}
}

func (a *MagazineCard) Name() string   { return MagazineCardKind }
func (a *MagazineCard) Policy() Policy { return a.policy }

func (a *MagazineCard) Submit(ctx context.Context, req *domain.Request) (*domain.Job, error) {
	style := req.Style
	if style == "" {
		styles := MagazineStyles()
		style = styles[rand.IntN(len(styles))]
	}
	direction, ok := magazineStyles[style]
	if !ok {
		return nil, &domain.SubmissionError{Provider: MagazineCardKind, Message: fmt.Sprintf("unknown style %q", style)}
	}

	prompt := fmt.Sprintf(magazinePrompt, direction,
		req.QRCodeURL, orDefault(req.ProductImageURL, req.ImageURL),
		req.ProductPrice, req.ProductDescription, req.Prompt)
	payload := map[string]any{
		"model":       orDefault(req.Model, a.model),
		"temperature": 0.7,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
	}

	var resp struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := a.client.submit(ctx, "/chat/completions", payload, &resp); err != nil {
		return nil, err
	}
	var html string
	if len(resp.Choices) > 0 {
		html = stripFence(resp.Choices[0].Message.Content)
	}
	if strings.TrimSpace(html) == "" {
		return nil, &domain.SubmissionError{Provider: MagazineCardKind, StatusCode: 200, Message: "response carries no document"}
	}

	id := uuid.NewString()
	a.keep(id, html)
	return &domain.Job{
		Provider:       MagazineCardKind,
		ExternalID:     id,
		ProviderStatus: "completed",
		Ready:          []string{documentURL(id, style)},
	}, nil
}

func (a *MagazineCard) Poll(_ context.Context, job *domain.Job) (domain.PollResult, error) {
	if len(job.Ready) == 0 {
		return domain.PollResult{State: domain.PollFailed, Reason: "synchronous job carries no artifact"}, nil
	}
	return domain.PollResult{State: domain.PollCompleted, ProviderStatus: job.ProviderStatus, ArtifactURLs: job.Ready}, nil
}

// Fetch hands out a rendered document once. Any other URL is downloaded.
func (a *MagazineCard) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != documentScheme {
		return a.client.fetch(ctx, rawURL)
	}
	id := u.Host
	a.mu.Lock()
	doc, ok := a.rendered[id]
	delete(a.rendered, id)
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("document %s is not held", id)
	}
	return io.NopCloser(strings.NewReader(doc.html)), nil
}

// keep stores html under id and drops documents nobody fetched within the
// polling deadline.
func (a *MagazineCard) keep(id, html string) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, d := range a.rendered {
		if now.Sub(d.at) > a.policy.Timeout {
			delete(a.rendered, k)
		}
	}
	a.rendered[id] = renderedDoc{html: html, at: now}
}

// documentURL names a held document. The path carries the style and the
// .html extension so the stored file is named after it.
func documentURL(id, style string) string {
	return fmt.Sprintf("%s://%s/magazine_card_%s.html", documentScheme, id, style)
}

// stripFence removes a markdown code fence the model may wrap the document in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
