package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures for callers across the external
// boundary. Errors are always structured (kind + message), never opaque.
type ErrorKind string

const (
	// KindInvalidRequest marks a malformed query or out-of-range parameter.
	// Caller error; not retried.
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"

	// KindRateLimited marks a request rejected by the per-minute limiter.
	// The caller should back off and retry later.
	KindRateLimited ErrorKind = "RATE_LIMIT_EXCEEDED"

	// KindQueueFull marks a request rejected because the admission queue is
	// at capacity. Transient; the caller may retry shortly.
	KindQueueFull ErrorKind = "QUEUE_FULL"

	// KindBackendTimeout marks a search backend that did not respond within
	// the configured deadline. The caller may retry; not fatal to the gateway.
	KindBackendTimeout ErrorKind = "BACKEND_TIMEOUT"

	// KindBackendError marks an internal backend failure, propagated with a
	// generic wrapper and logged. Not retried automatically.
	KindBackendError ErrorKind = "BACKEND_ERROR"

	// KindClusterWriteFailed marks a compaction cluster whose consolidated
	// write or status flip failed. Reported per cluster; never aborts a run.
	KindClusterWriteFailed ErrorKind = "CLUSTER_WRITE_FAILED"
)

// Error is the structured error returned across the gateway boundary.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Err is the wrapped cause, if any. Not serialized.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, or "" when err is not a gateway
// Error.
func KindOf(err error) ErrorKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}
