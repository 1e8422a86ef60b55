package repository

import (
	"context"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/agentjob"
)

// JobRepository enumerates and terminates agent jobs. Jobs are selected
// strictly by task-id label; cancellation never targets jobs outside the
// selector.
type JobRepository interface {
	// Save creates or replaces a job record
	Save(ctx context.Context, job *agentjob.AgentJob) error

	// ListByTask returns all jobs labeled with taskID
	ListByTask(ctx context.Context, taskID string) ([]*agentjob.AgentJob, error)

	// Find retrieves a job by name, or (nil, nil) if absent
	Find(ctx context.Context, name string) (*agentjob.AgentJob, error)

	// RequestTermination sets the job's graceful-termination marker
	RequestTermination(ctx context.Context, name string) error

	// Delete forcefully removes the job
	Delete(ctx context.Context, name string) error
}
