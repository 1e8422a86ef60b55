package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/agentjob"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/lock"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

func fastCancellationConfig() CancellationConfig {
	return CancellationConfig{
		GracePeriod:    50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		ForceAttempts:  3,
		ForceBackoff:   time.Millisecond,
		DeletionVerify: 50 * time.Millisecond,
	}
}

func newCancellationFixture(t *testing.T) (*CancellationService, *MockStateRepository, *MockJobRepository, LockService) {
	t.Helper()
	stateRepo := NewMockStateRepository()
	jobRepo := NewMockJobRepository()
	lockSvc := NewLockService(NewMockLockRepository(), LockServiceConfig{
		Duration:      time.Minute,
		RenewInterval: time.Minute,
	})
	t.Cleanup(func() { lockSvc.Stop() })

	stateSvc := newTestStateService(stateRepo, nil)
	svc := NewCancellationService(lockSvc, stateSvc, jobRepo, fastCancellationConfig())
	return svc, stateRepo, jobRepo, lockSvc
}

func addJob(t *testing.T, repo *MockJobRepository, name, taskID string, phase agentjob.Phase) {
	t.Helper()
	job, err := agentjob.NewAgentJob(name, taskID, "quality")
	require.NoError(t, err)
	job.SetPhase(phase)
	require.NoError(t, repo.Save(context.Background(), job))
}

func TestCancellationService_CancelsRunningSkipsTerminal(t *testing.T) {
	svc, stateRepo, jobRepo, _ := newCancellationFixture(t)
	jobRepo.terminateMovesToCancelled = true
	ctx := context.Background()

	addJob(t, jobRepo, "quality-1", "task-c1", agentjob.PhaseRunning)
	addJob(t, jobRepo, "testing-1", "task-c1", agentjob.PhasePending)
	addJob(t, jobRepo, "done-1", "task-c1", agentjob.PhaseSucceeded)
	addJob(t, jobRepo, "other-task", "task-other", agentjob.PhaseRunning)

	result, err := svc.CancelAgentsForTask(ctx, "task-c1", 42, "corr-1")
	require.NoError(t, err)
	assert.Len(t, result.CancelledJobs, 2)
	require.Len(t, result.SkippedJobs, 1)
	assert.Equal(t, "done-1", result.SkippedJobs[0].Name)

	// The unrelated task's job was never touched
	other, err := jobRepo.Find(ctx, "other-task")
	require.NoError(t, err)
	assert.False(t, other.TerminateSet())

	// Flag is off afterwards
	state, err := stateRepo.Find(ctx, "task-c1")
	require.NoError(t, err)
	assert.False(t, state.CancellationInProgress())
}

func TestCancellationService_IdempotentWhileFlagSet(t *testing.T) {
	svc, stateRepo, jobRepo, _ := newCancellationFixture(t)
	ctx := context.Background()

	// Flag persisted by a previous (crashed or concurrent) run
	stateSvc := newTestStateService(stateRepo, nil)
	begun, err := stateSvc.BeginCancellation(ctx, "task-flagged")
	require.NoError(t, err)
	require.True(t, begun)

	addJob(t, jobRepo, "quality-f", "task-flagged", agentjob.PhaseRunning)

	result, err := svc.CancelAgentsForTask(ctx, "task-flagged", 7, "corr-2")
	require.NoError(t, err)
	assert.Equal(t, "cancellation already in progress", result.Reason)
	assert.Empty(t, result.CancelledJobs)

	// Nothing touched the job
	job, err := jobRepo.Find(ctx, "quality-f")
	require.NoError(t, err)
	assert.False(t, job.TerminateSet())
}

func TestCancellationService_FailsFastWhileLockHeld(t *testing.T) {
	svc, _, _, lockSvc := newCancellationFixture(t)
	ctx := context.Background()

	lockID, err := lock.CancellationLockID("task-locked")
	require.NoError(t, err)
	lease, err := lockSvc.Acquire(ctx, lockID)
	require.NoError(t, err)
	defer lockSvc.Release(ctx, lease)

	_, err = svc.CancelAgentsForTask(ctx, "task-locked", 1, "corr-3")
	require.Error(t, err)
	assert.True(t, repository.IsLockHeld(err))
}

func TestCancellationService_ForcedDeleteAfterGraceTimeout(t *testing.T) {
	svc, _, jobRepo, _ := newCancellationFixture(t)
	ctx := context.Background()

	// The runner ignores the marker; the grace window expires and the
	// job is deleted outright
	addJob(t, jobRepo, "stubborn-1", "task-force", agentjob.PhaseRunning)

	result, err := svc.CancelAgentsForTask(ctx, "task-force", 9, "corr-4")
	require.NoError(t, err)
	assert.Len(t, result.CancelledJobs, 1)

	gone, err := jobRepo.Find(ctx, "stubborn-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCancellationService_TransientDeleteFailuresRetried(t *testing.T) {
	svc, _, jobRepo, _ := newCancellationFixture(t)
	ctx := context.Background()

	addJob(t, jobRepo, "flaky-1", "task-flaky", agentjob.PhaseRunning)
	jobRepo.deleteErr = repository.NewRetryableError(errors.New("store timeout"))
	jobRepo.deleteFailures = 2

	result, err := svc.CancelAgentsForTask(ctx, "task-flaky", 3, "corr-5")
	require.NoError(t, err)
	assert.Len(t, result.CancelledJobs, 1)
}

func TestCancellationService_PartialFailureReportsAggregate(t *testing.T) {
	svc, stateRepo, jobRepo, _ := newCancellationFixture(t)
	ctx := context.Background()

	addJob(t, jobRepo, "bad-1", "task-part", agentjob.PhaseRunning)
	jobRepo.deleteErr = repository.NewRetryableError(errors.New("store down"))
	jobRepo.deleteFailures = 100 // exceeds every retry budget

	result, err := svc.CancelAgentsForTask(ctx, "task-part", 5, "corr-6")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 jobs failed")
	assert.Empty(t, result.CancelledJobs)

	// Flag cleared and the failure recorded in the trail
	state, err := stateRepo.Find(ctx, "task-part")
	require.NoError(t, err)
	assert.False(t, state.CancellationInProgress())
	assert.NotEmpty(t, state.ErrorMessages())
}

func TestCancellationService_ListFailureReportedDistinctly(t *testing.T) {
	svc, stateRepo, jobRepo, _ := newCancellationFixture(t)
	ctx := context.Background()

	addJob(t, jobRepo, "quality-l", "task-listfail", agentjob.PhaseRunning)
	jobRepo.listErr = errors.New("store unreachable")

	result, err := svc.CancelAgentsForTask(ctx, "task-listfail", 4, "corr-8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list jobs")
	assert.NotContains(t, err.Error(), "jobs failed to cancel")
	assert.Empty(t, result.CancelledJobs)
	assert.Empty(t, result.SkippedJobs)

	// Flag cleared and the listing failure recorded in the trail
	state, err := stateRepo.Find(ctx, "task-listfail")
	require.NoError(t, err)
	assert.False(t, state.CancellationInProgress())
	require.NotEmpty(t, state.ErrorMessages())
	assert.Contains(t, state.ErrorMessages()[0], "list jobs")
}

func TestCancellationService_LockReleasedAfterRun(t *testing.T) {
	svc, _, jobRepo, lockSvc := newCancellationFixture(t)
	jobRepo.terminateMovesToCancelled = true
	ctx := context.Background()

	addJob(t, jobRepo, "quality-r", "task-release", agentjob.PhaseRunning)

	_, err := svc.CancelAgentsForTask(ctx, "task-release", 2, "corr-7")
	require.NoError(t, err)

	lockID, err := lock.CancellationLockID("task-release")
	require.NoError(t, err)
	_, err = lockSvc.Find(ctx, lockID)
	assert.ErrorIs(t, err, lock.ErrLockNotFound)
}
