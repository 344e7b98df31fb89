package research

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies job failures for retry decisions.
type ErrorKind string

const (
	// KindTransient failures may succeed on retry (timeouts, 5xx, network).
	KindTransient ErrorKind = "transient"
	// KindPermanent failures will not succeed on retry (bad input, 4xx).
	KindPermanent ErrorKind = "permanent"
	// KindQuota failures mean an upstream budget or rate limit is exhausted.
	KindQuota ErrorKind = "quota"
	// KindWorkerCrash means the worker goroutine panicked mid-job.
	KindWorkerCrash ErrorKind = "worker_crash"
)

// ErrNoUsableSources indicates scoring filtered every result out.
var ErrNoUsableSources = errors.New("no usable sources after scoring")

// JobError wraps a failure with its retry classification and the pipeline
// stage it occurred in.
type JobError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class permits another attempt.
func (e *JobError) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindWorkerCrash:
		return true
	}
	return false
}

// Transient wraps err as a retryable failure at stage.
func Transient(stage string, err error) *JobError {
	return &JobError{Kind: KindTransient, Stage: stage, Err: err}
}

// Permanent wraps err as a non-retryable failure at stage.
func Permanent(stage string, err error) *JobError {
	return &JobError{Kind: KindPermanent, Stage: stage, Err: err}
}

// Quota wraps err as a budget-exhausted failure at stage.
func Quota(stage string, err error) *JobError {
	return &JobError{Kind: KindQuota, Stage: stage, Err: err}
}

// Crash wraps a recovered panic value as a worker-crash failure.
func Crash(stage string, v any) *JobError {
	return &JobError{Kind: KindWorkerCrash, Stage: stage, Err: fmt.Errorf("panic: %v", v)}
}

// Classify normalizes an arbitrary error into a JobError. Context
// cancellation and deadline expiry are transient; already-classified errors
// pass through unchanged.
func Classify(stage string, err error) *JobError {
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(stage, err)
	}
	return Permanent(stage, err)
}

// IsRetryable reports whether err permits another attempt. Unclassified
// errors are treated as permanent.
func IsRetryable(err error) bool {
	var je *JobError
	if errors.As(err, &je) {
		return je.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
