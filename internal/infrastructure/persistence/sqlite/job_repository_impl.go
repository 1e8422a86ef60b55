package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/agentjob"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// JobRepositoryImpl implements repository.JobRepository with SQLite
type JobRepositoryImpl struct {
	db *sql.DB
}

// NewJobRepository creates a new SQLite-based job repository
func NewJobRepository(db *sql.DB) repository.JobRepository {
	return &JobRepositoryImpl{db: db}
}

// Save creates or replaces a job record
func (r *JobRepositoryImpl) Save(ctx context.Context, job *agentjob.AgentJob) error {
	terminate := 0
	if job.TerminateSet() {
		terminate = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_jobs (name, task_id, agent_type, phase, terminate, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			task_id = excluded.task_id,
			agent_type = excluded.agent_type,
			phase = excluded.phase,
			terminate = excluded.terminate,
			started_at = excluded.started_at
	`, job.Name(), job.TaskID(), job.AgentType(), string(job.Phase()), terminate,
		job.StartedAt().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save agent job: %w", err)
	}
	return nil
}

// ListByTask returns all jobs labeled with taskID
func (r *JobRepositoryImpl) ListByTask(ctx context.Context, taskID string) ([]*agentjob.AgentJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, task_id, agent_type, phase, terminate, started_at
		FROM agent_jobs WHERE task_id = ? ORDER BY started_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query agent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*agentjob.AgentJob
	for rows.Next() {
		job, err := scanAgentJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan agent job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent jobs: %w", err)
	}
	return jobs, nil
}

// Find retrieves a job by name, or (nil, nil) if absent
func (r *JobRepositoryImpl) Find(ctx context.Context, name string) (*agentjob.AgentJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, task_id, agent_type, phase, terminate, started_at
		FROM agent_jobs WHERE name = ?
	`, name)
	job, err := scanAgentJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent job: %w", err)
	}
	return job, nil
}

// RequestTermination sets the job's graceful-termination marker
func (r *JobRepositoryImpl) RequestTermination(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE agent_jobs SET terminate = 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("request job termination: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("agent job %s not found", name)
	}
	return nil
}

// Delete forcefully removes the job. Deleting an absent job is not an
// error; cancellation treats it as already gone.
func (r *JobRepositoryImpl) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM agent_jobs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete agent job: %w", err)
	}
	return nil
}

func scanAgentJob(scan func(dest ...interface{}) error) (*agentjob.AgentJob, error) {
	var (
		name       string
		taskID     string
		agentType  string
		phase      string
		terminate  int
		startedStr string
	)
	if err := scan(&name, &taskID, &agentType, &phase, &terminate, &startedStr); err != nil {
		return nil, err
	}
	startedAt, err := time.Parse(time.RFC3339Nano, startedStr)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	return agentjob.ReconstructAgentJob(name, taskID, agentType,
		agentjob.Phase(phase), terminate == 1, startedAt), nil
}
