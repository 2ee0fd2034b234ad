package core

import (
	"context"
	"errors"
)

// Error kinds surfaced by the engine. HTTP handlers branch on these via
// Kind(); everything leaving the package is one of them.
const (
	KindValidation       = "VALIDATION"
	KindNotFound         = "NOT_FOUND"
	KindConflict         = "CONFLICT"
	KindTransientStore   = "TRANSIENT_STORE"
	KindSandboxInternal  = "SANDBOX_INTERNAL"
	KindWorkerCrash      = "WORKER_CRASH"
	KindRetriesExhausted = "RETRIES_EXHAUSTED"
	KindInternal         = "INTERNAL"
)

var (
	// ErrValidation rejects malformed input at creation time; no state change.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a submission, queue item or execution does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an operation races a conflicting state,
	// e.g. rejudge on a non-terminal submission.
	ErrConflict = errors.New("conflict")
	// ErrNotClaimed is returned by Complete/Fail when the item is not owned
	// by the calling worker anymore.
	ErrNotClaimed = errors.New("queue item not claimed by worker")
	// ErrNoPending is returned by ClaimNext when the queue has no pending item.
	ErrNoPending = errors.New("no pending queue item")
	// ErrSandboxInternal marks a sandbox-side failure (not the submission's fault).
	ErrSandboxInternal = errors.New("sandbox internal failure")
	// ErrTransientStore marks a store error worth retrying.
	ErrTransientStore = errors.New("transient store failure")
	// ErrRetriesExhausted marks a queue item whose retry budget ran out.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Kind classifies err into the error kind table above. Unknown errors are INTERNAL.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotClaimed):
		return KindConflict
	case errors.Is(err, ErrTransientStore),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransientStore
	case errors.Is(err, ErrSandboxInternal):
		return KindSandboxInternal
	case errors.Is(err, ErrRetriesExhausted):
		return KindRetriesExhausted
	default:
		return KindInternal
	}
}
