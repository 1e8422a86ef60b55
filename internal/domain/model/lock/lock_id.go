package lock

import (
	"errors"
	"fmt"
)

// Common lock errors
var (
	ErrLockNotFound = errors.New("lock not found")
)

// LockID is a value object identifying the workflow being serialized
// (e.g. "cancel-task-42")
type LockID struct {
	value string
}

// NewLockID creates a new lock ID
func NewLockID(value string) (LockID, error) {
	if value == "" {
		return LockID{}, fmt.Errorf("lock ID cannot be empty")
	}
	return LockID{value: value}, nil
}

// CancellationLockID derives the lock ID guarding cancellation of a task
func CancellationLockID(taskID string) (LockID, error) {
	if taskID == "" {
		return LockID{}, fmt.Errorf("task ID cannot be empty")
	}
	return NewLockID("cancel-" + taskID)
}

// String returns the string representation of the lock ID
func (id LockID) String() string {
	return id.value
}

// Equals checks if two lock IDs are equal
func (id LockID) Equals(other LockID) bool {
	return id.value == other.value
}
