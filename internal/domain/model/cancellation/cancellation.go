package cancellation

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Request asks the coordinator to cancel all competing agent jobs for a
// task. Transient: persisted to the durable queue while pending or in
// flight, removed once terminal.
type Request struct {
	TaskID        string    `json:"task_id"`
	PRNumber      int       `json:"pr_number"`
	CorrelationID string    `json:"correlation_id"`
	RequestTime   time.Time `json:"request_time"`
	Priority      int       `json:"priority"`
	RetryCount    int       `json:"retry_count"`
}

// NewRequest creates a request with a fresh correlation ID
func NewRequest(taskID string, prNumber int) (*Request, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}
	return &Request{
		TaskID:        taskID,
		PRNumber:      prNumber,
		CorrelationID: NewCorrelationID(taskID),
		RequestTime:   time.Now().UTC(),
	}, nil
}

// NewCorrelationID generates a traceable identifier for one cancellation
// attempt. Format: cancel-<task>-<ULID>.
func NewCorrelationID(taskID string) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return fmt.Sprintf("cancel-%s-%s", taskID, id.String())
}

// QueueKey is the durable queue key for this request
func (r *Request) QueueKey() string {
	return fmt.Sprintf("%s-%d", r.TaskID, r.RequestTime.UTC().UnixNano())
}

// StatusPhase is the coordinator-visible phase of a cancellation
type StatusPhase string

const (
	PhasePending    StatusPhase = "pending"
	PhaseInProgress StatusPhase = "in_progress"
	PhaseCompleted  StatusPhase = "completed"
	PhaseFailed     StatusPhase = "failed"
)

// Status is the in-memory bookkeeping entry for an active cancellation.
// Authoritative only for the current process lifetime; durable truth lives
// in the remediation state and the persisted queue.
type Status struct {
	Phase     StatusPhase
	StartTime time.Time
	EndTime   time.Time
	Err       string
	WorkerID  string
}

// JobOutcome describes one job the cancellation touched (or skipped)
type JobOutcome struct {
	Name      string `json:"name"`
	AgentType string `json:"agent_type"`
	Reason    string `json:"reason"`
}

// Result summarizes a completed cancellation run
type Result struct {
	TaskID        string       `json:"task_id"`
	PRNumber      int          `json:"pr_number"`
	CancelledJobs []JobOutcome `json:"cancelled_jobs"`
	SkippedJobs   []JobOutcome `json:"skipped_jobs"`
	Reason        string       `json:"reason"`
	CorrelationID string       `json:"correlation_id"`
}

// InconsistencyType classifies drift found by the recovery manager
type InconsistencyType string

const (
	InconsistencyStuckCancellation InconsistencyType = "stuck_cancellation"
	InconsistencyOrphanedLock      InconsistencyType = "orphaned_lock"
	InconsistencyStateFlag         InconsistencyType = "state_inconsistency"
)

// Inconsistency is one piece of detected drift. Produced by detection,
// consumed by repair; never persisted.
type Inconsistency struct {
	Type        InconsistencyType
	TaskID      string
	Description string
	Severity    string
}
