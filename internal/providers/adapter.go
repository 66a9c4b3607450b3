package providers

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

// Adapter wraps one generation provider behind submit, poll and fetch.
//
// Poll performs a single status check and must never sleep; cadence and
// deadline belong to the poller.
type Adapter interface {
	Name() string
	Policy() Policy
	Submit(ctx context.Context, req *domain.Request) (*domain.Job, error)
	Poll(ctx context.Context, job *domain.Job) (domain.PollResult, error)
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Policy is the polling cadence and deadline applied to an adapter's jobs.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Config is the per-provider configuration injected at construction.
type Config struct {
	BaseURL string
	APIKey  string
	// Model is used when the request does not name one.
	Model        string
	PollInterval time.Duration
	Timeout      time.Duration
	// HTTPClient overrides the default client. Tests point it at httptest.
	HTTPClient HTTPDoer
}

func (c Config) policy(def Policy) Policy {
	p := def
	if c.PollInterval > 0 {
		p.Interval = c.PollInterval
	}
	if c.Timeout > 0 {
		p.Timeout = c.Timeout
	}
	return p
}

// Registry maps request kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its name. Safe to call concurrently.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for the given kind.
// Returns InvalidRequestKindError if not registered.
func (r *Registry) Get(kind string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, &domain.InvalidRequestKindError{Kind: kind}
	}
	return a, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
