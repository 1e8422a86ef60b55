package service

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/app"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/agentjob"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/lock"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// CancellationConfig tunes one cancellation run
type CancellationConfig struct {
	GracePeriod    time.Duration // Wait for a job to observe its termination marker
	PollInterval   time.Duration // Phase/absence polling period
	ForceAttempts  int           // Max forced-delete attempts per job
	ForceBackoff   time.Duration // Backoff unit between forced attempts (attempt² units)
	DeletionVerify time.Duration // Post-delete absence verification window
}

// DefaultCancellationConfig returns default configuration
func DefaultCancellationConfig() CancellationConfig {
	return CancellationConfig{
		GracePeriod:    30 * time.Second,
		PollInterval:   time.Second,
		ForceAttempts:  3,
		ForceBackoff:   time.Second,
		DeletionVerify: 10 * time.Second,
	}
}

// CancellationService terminates the competing agent jobs of a task,
// guarded by the task's cancel lock and the persisted
// cancellation-in-progress flag. One run per task at a time across all
// replicas; a second caller either fails fast on the lock or observes
// the flag and does nothing.
type CancellationService struct {
	lockService  LockService
	stateService *StateService
	jobRepo      repository.JobRepository
	config       CancellationConfig
}

// NewCancellationService creates a cancellation service
func NewCancellationService(
	lockService LockService,
	stateService *StateService,
	jobRepo repository.JobRepository,
	config CancellationConfig,
) *CancellationService {
	if config.ForceAttempts <= 0 {
		config = DefaultCancellationConfig()
	}
	return &CancellationService{
		lockService:  lockService,
		stateService: stateService,
		jobRepo:      jobRepo,
		config:       config,
	}
}

// CancelAgentsForTask cancels all running agent jobs labeled with taskID.
// Per-job failures never abort the batch; they are collected into the
// state's error trail and an aggregate error. A cancellation already in
// flight is reported as success with a reason, touching nothing.
func (s *CancellationService) CancelAgentsForTask(ctx context.Context, taskID string, prNumber int, correlationID string) (*cancellation.Result, error) {
	lockID, err := lock.CancellationLockID(taskID)
	if err != nil {
		return nil, err
	}

	// Fail fast while another replica holds the lock; the coordinator
	// queues retries, this layer does not wait.
	lease, err := s.lockService.Acquire(ctx, lockID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.lockService.Release(context.Background(), lease); err != nil {
			app.GetLogger().Warn("release of %s failed: %v", lockID, err)
		}
	}()

	begun, err := s.stateService.BeginCancellation(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("set cancellation flag: %w", err)
	}
	if !begun {
		app.GetLogger().Info("cancellation for %s already in progress, skipping [%s]",
			taskID, correlationID)
		return &cancellation.Result{
			TaskID:        taskID,
			PRNumber:      prNumber,
			Reason:        "cancellation already in progress",
			CorrelationID: correlationID,
		}, nil
	}

	result := &cancellation.Result{
		TaskID:        taskID,
		PRNumber:      prNumber,
		CorrelationID: correlationID,
	}
	jobs, listErr := s.jobRepo.ListByTask(ctx, taskID)
	if listErr != nil {
		// No job was touched; the flag still comes off
		if err := s.stateService.EndCancellation(ctx, taskID,
			[]string{fmt.Sprintf("list jobs: %v", listErr)}); err != nil {
			return result, fmt.Errorf("clear cancellation flag: %w", err)
		}
		return result, fmt.Errorf("list jobs for %s: %w", taskID, listErr)
	}

	var jobErrs []string

	for _, job := range jobs {
		if job.Phase().IsTerminal() {
			result.SkippedJobs = append(result.SkippedJobs, cancellation.JobOutcome{
				Name:      job.Name(),
				AgentType: job.AgentType(),
				Reason:    fmt.Sprintf("already %s", job.Phase()),
			})
			continue
		}

		if err := s.cancelJob(ctx, job); err != nil {
			app.GetLogger().Error("cancel job %s for %s: %v [%s]",
				job.Name(), taskID, err, correlationID)
			jobErrs = append(jobErrs, fmt.Sprintf("job %s: %v", job.Name(), err))
			continue
		}
		result.CancelledJobs = append(result.CancelledJobs, cancellation.JobOutcome{
			Name:      job.Name(),
			AgentType: job.AgentType(),
			Reason:    "cancelled",
		})
	}

	// The flag comes off no matter how the jobs fared
	if err := s.stateService.EndCancellation(ctx, taskID, jobErrs); err != nil {
		return result, fmt.Errorf("clear cancellation flag: %w", err)
	}

	if len(jobErrs) > 0 {
		return result, fmt.Errorf("%d of %d jobs failed to cancel", len(jobErrs), len(jobs))
	}
	app.GetLogger().Info("cancelled %d jobs for %s (%d skipped) [%s]",
		len(result.CancelledJobs), taskID, len(result.SkippedJobs), correlationID)
	return result, nil
}

// cancelJob terminates one job: graceful first, forced as fallback, and
// verifies the job is actually gone or terminal before reporting success.
func (s *CancellationService) cancelJob(ctx context.Context, job *agentjob.AgentJob) error {
	if err := s.jobRepo.RequestTermination(ctx, job.Name()); err != nil {
		app.GetLogger().Debug("graceful termination of %s failed: %v", job.Name(), err)
	} else if s.awaitTerminal(ctx, job.Name(), s.config.GracePeriod) {
		return nil
	}

	// Forced deletion with quadratic backoff on transient failures
	var lastErr error
	for attempt := 1; attempt <= s.config.ForceAttempts; attempt++ {
		lastErr = s.jobRepo.Delete(ctx, job.Name())
		if lastErr == nil {
			break
		}
		if !repository.IsRetryable(lastErr) {
			return fmt.Errorf("forced delete: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * s.config.ForceBackoff):
		}
	}
	if lastErr != nil {
		return fmt.Errorf("forced delete after %d attempts: %w", s.config.ForceAttempts, lastErr)
	}

	if !s.awaitGone(ctx, job.Name(), s.config.DeletionVerify) {
		return fmt.Errorf("job still present after deletion")
	}
	return nil
}

// awaitTerminal polls until the job reaches a terminal phase or
// disappears, or the window closes
func (s *CancellationService) awaitTerminal(ctx context.Context, name string, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for {
		job, err := s.jobRepo.Find(ctx, name)
		if err == nil && (job == nil || job.Phase().IsTerminal()) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.config.PollInterval):
		}
	}
}

// awaitGone polls until the job record is absent or the window closes
func (s *CancellationService) awaitGone(ctx context.Context, name string, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for {
		job, err := s.jobRepo.Find(ctx, name)
		if err == nil && job == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.config.PollInterval):
		}
	}
}
