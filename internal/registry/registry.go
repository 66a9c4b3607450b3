package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

// Change describes a status transition requested by the engine.
type Change struct {
	Status    domain.Status
	Result    *domain.Result
	Error     string
	ErrorKind domain.ErrorKind
}

// Registry is the process-wide store of task records.
//
// Records are replaced whole under the write lock and never mutated in place,
// so a reader holding a record always sees a fully formed task.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tasks: make(map[string]*domain.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new PENDING task for kind and returns a copy of it.
func (r *Registry) Create(kind string) *domain.Task {
	now := r.now()
	t := &domain.Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()

	return t.Clone()
}

// Get returns a copy of the task with the given id.
func (r *Registry) Get(id string) (*domain.Task, error) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return t.Clone(), nil
}

// Update applies c to the task with the given id and returns the new record.
// A terminal task is never modified again.
func (r *Registry) Update(id string, c Change) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[id]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	if cur.Status.IsTerminal() {
		return nil, &domain.AlreadyFinalizedError{TaskID: id, Status: cur.Status}
	}
	if err := validate(cur, c); err != nil {
		return nil, err
	}

	next := cur.Clone()
	next.Status = c.Status
	next.UpdatedAt = r.now()
	if c.Status.IsTerminal() {
		at := next.UpdatedAt
		next.CompletedAt = &at
		switch c.Status {
		case domain.StatusCompleted:
			next.Result = c.Result.Clone()
		case domain.StatusFailed:
			next.Error = c.Error
			next.ErrorKind = c.ErrorKind
			if next.ErrorKind == "" {
				next.ErrorKind = domain.ErrorKindInternal
			}
		}
	}

	r.tasks[id] = next
	return next.Clone(), nil
}

func validate(cur *domain.Task, c Change) error {
	invalid := func(reason string) error {
		return &domain.InvalidTransitionError{TaskID: cur.ID, From: cur.Status, To: c.Status, Reason: reason}
	}
	switch c.Status {
	case domain.StatusProcessing:
		if c.Result != nil || c.Error != "" {
			return invalid("processing carries no result or error")
		}
	case domain.StatusCompleted:
		if c.Result == nil {
			return invalid("completed requires a result")
		}
		if c.Error != "" {
			return invalid("completed must not carry an error")
		}
	case domain.StatusFailed:
		if c.Error == "" {
			return invalid("failed requires an error message")
		}
		if c.Result != nil {
			return invalid("failed must not carry a result")
		}
	case domain.StatusPending:
		return invalid("pending is only an initial state")
	default:
		return invalid("unknown status")
	}
	return nil
}

// Evict removes terminal tasks that completed more than retention ago and
// returns how many were removed. Non-terminal tasks are never evicted.
func (r *Registry) Evict(retention time.Duration) int {
	cutoff := r.now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, t := range r.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
