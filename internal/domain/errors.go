package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a task failed, so callers can pick a retry policy.
type ErrorKind string

const (
	ErrorKindSubmission       ErrorKind = "submission"
	ErrorKindProviderFailure  ErrorKind = "provider_failure"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindArtifactTransfer ErrorKind = "artifact_transfer"
	ErrorKindCanceled         ErrorKind = "canceled"
	ErrorKindInternal         ErrorKind = "internal"
)

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// AlreadyFinalizedError is returned when an update targets a task that is
// already COMPLETED or FAILED.
type AlreadyFinalizedError struct {
	TaskID string
	Status Status
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("task %s already finalized with status %s", e.TaskID, e.Status)
}

// InvalidTransitionError is returned for a status change the lifecycle forbids.
type InvalidTransitionError struct {
	TaskID string
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// InvalidRequestKindError is returned when no provider is registered for a kind.
type InvalidRequestKindError struct {
	Kind string
}

func (e *InvalidRequestKindError) Error() string {
	return fmt.Sprintf("no provider registered for request kind %q", e.Kind)
}

// InvalidRequestError is returned when a request payload has the wrong shape.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request field %q: %s", e.Field, e.Reason)
}

// RateLimitExceededError is returned when a request kind exceeds its admission rate.
type RateLimitExceededError struct {
	Kind  string
	Limit int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for request kind %q: limit is %d", e.Kind, e.Limit)
}

// SubmissionError is returned when a provider rejects a job at creation time.
// Message carries the provider's response verbatim.
type SubmissionError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s submission failed: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s submission failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// ProviderFailureError is returned when a provider reports terminal failure.
type ProviderFailureError struct {
	Provider string
	JobID    string
	Reason   string
}

func (e *ProviderFailureError) Error() string {
	return fmt.Sprintf("%s job %s failed: %s", e.Provider, e.JobID, e.Reason)
}

// TimeoutError is returned when polling exceeds its deadline without a
// terminal provider response.
type TimeoutError struct {
	Provider string
	JobID    string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s job %s timed out after %s", e.Provider, e.JobID, e.Timeout)
}

// ArtifactTransferError is returned when fetching or materializing an
// artifact fails after the provider reported success.
type ArtifactTransferError struct {
	Index int
	URL   string
	Err   error
}

func (e *ArtifactTransferError) Error() string {
	return fmt.Sprintf("artifact %d (%s): %v", e.Index, e.URL, e.Err)
}

func (e *ArtifactTransferError) Unwrap() error { return e.Err }

// ArtifactNotFoundError is returned when a local path does not resolve under
// the managed storage root.
type ArtifactNotFoundError struct {
	Path string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact not found: %s", e.Path)
}

// KindOf maps a pipeline error to the kind recorded on the failed task.
func KindOf(err error) ErrorKind {
	var (
		submission *SubmissionError
		failure    *ProviderFailureError
		timeout    *TimeoutError
		transfer   *ArtifactTransferError
	)
	switch {
	case errors.As(err, &transfer):
		return ErrorKindArtifactTransfer
	case errors.As(err, &submission):
		return ErrorKindSubmission
	case errors.As(err, &failure):
		return ErrorKindProviderFailure
	case errors.As(err, &timeout):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	default:
		return ErrorKindInternal
	}
}
