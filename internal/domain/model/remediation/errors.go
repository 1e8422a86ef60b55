package remediation

import (
	"errors"
	"fmt"
)

// ErrStateNotFound is returned by operations that require an existing
// state record. Plain reads treat absence as a valid result instead.
var ErrStateNotFound = errors.New("remediation state not found")

// MaxIterationsError is returned when an increment is requested for a task
// that has already consumed its full iteration budget. Terminal: the caller
// must escalate and halt automation for the task.
type MaxIterationsError struct {
	TaskID string
	Count  int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("task %s reached max iterations (%d)", e.TaskID, e.Count)
}

// IsMaxIterations reports whether err is a MaxIterationsError
func IsMaxIterations(err error) bool {
	var m *MaxIterationsError
	return errors.As(err, &m)
}
