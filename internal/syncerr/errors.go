// Package syncerr defines the error taxonomy shared by the local store, the
// remote backends and the sync coordinator.
//
// Every failure that crosses a package boundary is an *Error carrying the
// operation, the task id (zero when not applicable) and a Kind that tells the
// caller what to do next:
//
//	if syncerr.IsRetryable(err) {
//	    // schedule a retry with backoff
//	}
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failure by how the caller should react to it.
type Kind int

const (
	// KindTransient covers network timeouts, 5xx and throttling. Retried with backoff.
	KindTransient Kind = iota
	// KindPermanent covers rejected credentials and malformed payloads.
	// Surfaced to the user, never retried automatically.
	KindPermanent
	// KindNotFound means the remote record is missing. Treated as success for
	// deletes and updates.
	KindNotFound
	// KindFatal covers local storage failures (disk full, corruption).
	KindFatal
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindNotFound:
		return "not_found"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors. Check them with errors.Is.
var (
	// ErrNotFound is returned when a task or remote document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated is returned when no user is signed in or the
	// credentials were rejected.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrOffline is returned when an operation needs the network and the
	// connectivity monitor reports it as unavailable.
	ErrOffline = errors.New("offline")

	// ErrInvalid is returned when a task fails validation.
	ErrInvalid = errors.New("invalid task")
)

// Error is the typed failure returned by repository-facing calls.
type Error struct {
	Op     string
	TaskID int64
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	if e.TaskID != 0 {
		return fmt.Sprintf("%s task %d: %s: %v", e.Op, e.TaskID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with operation context. A nil err yields nil.
func New(op string, taskID int64, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, TaskID: taskID, Kind: kind, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(op string, taskID int64, err error) error {
	return New(op, taskID, KindTransient, err)
}

// Permanent wraps err as a non-retryable failure.
func Permanent(op string, taskID int64, err error) error {
	return New(op, taskID, KindPermanent, err)
}

// NotFound wraps err (or ErrNotFound when err is nil) as a missing-record failure.
func NotFound(op string, taskID int64, err error) error {
	if err == nil {
		err = ErrNotFound
	}
	return New(op, taskID, KindNotFound, err)
}

// Fatal wraps err as a local storage failure.
func Fatal(op string, taskID int64, err error) error {
	return New(op, taskID, KindFatal, err)
}

// KindOf reports the Kind of err.
//
// Errors that were never classified are inspected: ErrNotFound maps to
// KindNotFound, ErrUnauthenticated and ErrInvalid to KindPermanent, and
// anything else (network errors, deadlines, unknown causes) to KindTransient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalid):
		return KindPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	return KindTransient
}

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}

// IsNotFound returns true if the error reports a missing record.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindNotFound
}

// IsFatal returns true if the error is a local storage failure.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindFatal
}

// IsPermanent returns true if the error must be surfaced to the user rather
// than retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindPermanent
}

// FromHTTPStatus classifies an HTTP status code returned by a remote backend.
func FromHTTPStatus(op string, taskID int64, status int, err error) error {
	switch {
	case status == 404:
		return NotFound(op, taskID, err)
	case status == 408 || status == 429 || status >= 500:
		return Transient(op, taskID, err)
	case status == 401 || status == 403:
		return Permanent(op, taskID, fmt.Errorf("%w: %w", ErrUnauthenticated, err))
	case status >= 400:
		return Permanent(op, taskID, err)
	default:
		return Transient(op, taskID, err)
	}
}
