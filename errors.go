package shelfsync

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the shelfsync package.
var (
	// ErrAuthentication is returned when no usable bearer token is
	// available. It is fatal to the current call and never retried
	// automatically.
	ErrAuthentication = errors.New("authentication required")

	// ErrAlreadySyncing is returned when a sync is requested while another
	// run holds the persisted isSyncing flag.
	ErrAlreadySyncing = errors.New("sync already in progress")

	// ErrManualResolutionRequired signals that a conflict was routed to the
	// pending queue and must be resolved by the user. It is a control
	// signal, not a failure.
	ErrManualResolutionRequired = errors.New("manual resolution required")

	// ErrConflictNotFound is returned when a conflict id is not in the
	// pending list.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrOperationNotSupported is returned for an offline-operation
	// entity/type combination that has no apply path. Retrying will never
	// succeed, so it surfaces immediately instead of entering the retry
	// cycle.
	ErrOperationNotSupported = errors.New("operation not supported")

	// ErrStoreClosed is returned when operations are attempted on a closed
	// local store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrOffline is returned when a remote call is attempted while the
	// connectivity monitor reports offline.
	ErrOffline = errors.New("device is offline")
)

// HTTPError reports a non-2xx response from a remote endpoint.
type HTTPError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
	}
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.Endpoint)
}

// Is implements error matching for HTTPError.
func (e *HTTPError) Is(target error) bool {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return target == ErrAuthentication
	}
	return false
}

// DecodeError reports a malformed response payload. It aborts the current
// sync run through the same terminal path as transport errors.
type DecodeError struct {
	Endpoint string
	Cause    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.Endpoint, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// SyncRunError wraps the failure of a sync run together with the cursor
// state at the time of failure. The cursor of the last successfully applied
// page stays persisted, so a later incremental sync resumes after it.
type SyncRunError struct {
	Type    SyncType
	Cursor  string
	Attempt int
	Cause   error
}

func (e *SyncRunError) Error() string {
	if e.Cursor != "" {
		return fmt.Sprintf("%s sync failed at cursor %q (attempt %d): %v", e.Type, e.Cursor, e.Attempt, e.Cause)
	}
	return fmt.Sprintf("%s sync failed (attempt %d): %v", e.Type, e.Attempt, e.Cause)
}

func (e *SyncRunError) Unwrap() error {
	return e.Cause
}
