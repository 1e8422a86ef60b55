package repository

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by conflict-detecting saves when the record
// changed since it was read. The caller must re-read, recompute, and
// retry; blind re-writes of the stale document are never safe.
var ErrConflict = errors.New("record changed since read")

// ErrConcurrentModification is returned by conditional label updates when
// the concurrency token went stale. Retryable with a fresh read.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// LockHeldError is returned by TryAcquire when a valid lease exists.
// Callers must back off; busy-looping on acquisition is not allowed.
type LockHeldError struct {
	Holder string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("lock held by %s", e.Holder)
}

// IsLockHeld reports whether err is a LockHeldError
func IsLockHeld(err error) bool {
	var l *LockHeldError
	return errors.As(err, &l)
}

// RetryableError marks a store failure as transient (timeout, rate limit).
// Components retry these with bounded backoff; all other store errors
// propagate immediately.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryableError wraps err as transient
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is transient
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r) || errors.Is(err, ErrConcurrentModification)
}
