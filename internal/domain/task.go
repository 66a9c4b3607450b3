package domain

import "time"

// Status represents the states a task can be in.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Task is the externally visible unit of orchestrated work.
//
// Result is set iff Status is COMPLETED and Error iff Status is FAILED; both
// only after CompletedAt has been stamped. A terminal Task is never mutated.
type Task struct {
	ID          string     `json:"task_id"`
	Kind        string     `json:"kind"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	c.Result = t.Result.Clone()
	return &c
}

// Result is the payload of a completed task.
type Result struct {
	Artifacts []Artifact `json:"artifacts"`
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := Result{Artifacts: make([]Artifact, len(r.Artifacts))}
	copy(c.Artifacts, r.Artifacts)
	return &c
}

// Artifact references one generated output, both where the provider hosts it
// and where it was materialized locally.
type Artifact struct {
	Index     int    `json:"index"`
	RemoteURL string `json:"url"`
	LocalPath string `json:"local_path"`
	Bytes     int64  `json:"bytes"`
	SHA256    string `json:"sha256"`
	Thumbnail string `json:"thumbnail,omitempty"`
}
