package errors

import (
	"errors"
	"fmt"
	"time"
)

// Class categorizes a failure by how the synchronization engine must react
// to it. Connector packages are responsible for classifying raw transport
// errors before they reach the services.
type Class string

const (
	// ClassAccessDenied is a permission-class failure; it drives the
	// access-failure blacklist.
	ClassAccessDenied Class = "ACCESS_DENIED"
	// ClassNotFound means the remote entity vanished. It is a structural
	// delete signal and is never retried as a create.
	ClassNotFound Class = "NOT_FOUND"
	// ClassPayloadTooLarge triggers staged dispatch degradation.
	ClassPayloadTooLarge Class = "PAYLOAD_TOO_LARGE"
	// ClassRateLimited is retried after honoring the remote backoff hint.
	ClassRateLimited Class = "RATE_LIMITED"
	// ClassTransientNetwork is retried with bounded backoff and never
	// affects blacklist state.
	ClassTransientNetwork Class = "TRANSIENT_NETWORK"
	// ClassUnrecoverable is propagated with full context and never
	// silently swallowed.
	ClassUnrecoverable Class = "UNRECOVERABLE"
)

// SyncError is a classified failure with diagnostic context.
type SyncError struct {
	Class      Class
	Message    string
	Cause      error
	Context    map[string]interface{}
	RetryAfter time.Duration
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a diagnostic key/value to the error.
func (e *SyncError) WithContext(key string, value interface{}) *SyncError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryAfter records a remote-supplied backoff hint.
func (e *SyncError) WithRetryAfter(d time.Duration) *SyncError {
	e.RetryAfter = d
	return e
}

// New creates a classified error.
func New(class Class, message string) *SyncError {
	return &SyncError{Class: class, Message: message}
}

// Wrap classifies an existing error.
func Wrap(err error, class Class, message string) *SyncError {
	return &SyncError{Class: class, Message: message, Cause: err}
}

// GetClass extracts the class from an error chain. Unclassified errors are
// treated as unrecoverable.
func GetClass(err error) Class {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassUnrecoverable
}

// Is reports whether the error chain carries the given class.
func Is(err error, class Class) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Class == class
	}
	return false
}

// IsAccessDenied reports whether the error counts toward the blacklist.
func IsAccessDenied(err error) bool { return Is(err, ClassAccessDenied) }

// IsNotFound reports whether the remote entity is gone.
func IsNotFound(err error) bool { return Is(err, ClassNotFound) }

// IsPayloadTooLarge reports whether dispatch degradation applies.
func IsPayloadTooLarge(err error) bool { return Is(err, ClassPayloadTooLarge) }

// IsRateLimited reports whether the error carries a backoff hint.
func IsRateLimited(err error) bool { return Is(err, ClassRateLimited) }

// IsRetryable reports whether bounded retry is appropriate for the error.
func IsRetryable(err error) bool {
	switch GetClass(err) {
	case ClassRateLimited, ClassTransientNetwork:
		return true
	default:
		return false
	}
}

// RetryAfterHint extracts the remote backoff hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var se *SyncError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}
