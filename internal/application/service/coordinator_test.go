package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/agentjob"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

type coordinatorFixture struct {
	coord     *Coordinator
	stateRepo *MockStateRepository
	jobRepo   *MockJobRepository
	queueRepo *MockQueueRepository
	prRepo    *MockPullRequestRepository
	breaker   *CircuitBreaker
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	stateRepo := NewMockStateRepository()
	jobRepo := NewMockJobRepository()
	jobRepo.terminateMovesToCancelled = true
	queueRepo := NewMockQueueRepository()
	prRepo := NewMockPullRequestRepository()

	lockSvc := NewLockService(NewMockLockRepository(), LockServiceConfig{
		Duration:      time.Minute,
		RenewInterval: time.Minute,
	})
	t.Cleanup(func() { lockSvc.Stop() })

	stateSvc := newTestStateService(stateRepo, nil)
	cancelSvc := NewCancellationService(lockSvc, stateSvc, jobRepo, fastCancellationConfig())
	labelSvc := NewLabelService(prRepo, 5)
	breaker := NewCircuitBreaker(2, time.Minute)

	coord := NewCoordinator(cancelSvc, labelSvc, queueRepo, breaker, CoordinatorConfig{
		ReadyLabel:      "ready-for-remediation",
		InProgressLabel: "remediation-in-progress",
	})
	t.Cleanup(coord.Stop)

	return &coordinatorFixture{
		coord:     coord,
		stateRepo: stateRepo,
		jobRepo:   jobRepo,
		queueRepo: queueRepo,
		prRepo:    prRepo,
		breaker:   breaker,
	}
}

func TestCoordinator_HappyPath(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	addJob(t, f.jobRepo, "quality-h", "task-h", agentjob.PhaseRunning)
	f.prRepo.seed(42, []string{"ready-for-remediation"})

	req, err := cancellation.NewRequest("task-h", 42)
	require.NoError(t, err)
	require.NoError(t, f.coord.RequestCancellation(ctx, req))

	// The worker finishes: job gone, labels flipped, queue drained,
	// status evicted
	assert.Eventually(t, func() bool {
		return !f.coord.HasActive("task-h")
	}, 2*time.Second, 10*time.Millisecond)

	gone, err := f.jobRepo.Find(ctx, "quality-h")
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.ElementsMatch(t, []string{"remediation-in-progress"}, f.prRepo.currentLabels(42))
	assert.Equal(t, 0, f.queueRepo.size())
}

func TestCoordinator_DuplicateAbsorbed(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	// Pin an active entry so the worker can't race the assertion
	f.coord.active.Store("task-dup", &cancellation.Status{
		Phase:     cancellation.PhaseInProgress,
		StartTime: time.Now().UTC(),
	})

	req, err := cancellation.NewRequest("task-dup", 1)
	require.NoError(t, err)
	require.NoError(t, f.coord.RequestCancellation(ctx, req))

	// Nothing was persisted for the duplicate
	assert.Equal(t, 0, f.queueRepo.size())
}

func TestCoordinator_RaceLoserDropsQueueEntry(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	// A second request registers the task right after ours is persisted,
	// so our LoadOrStore loses the race
	f.queueRepo.onEnqueue = func(req *cancellation.Request) {
		f.queueRepo.onEnqueue = nil
		f.coord.active.Store(req.TaskID, &cancellation.Status{
			Phase:     cancellation.PhaseInProgress,
			StartTime: time.Now().UTC(),
		})
	}

	req, err := cancellation.NewRequest("task-race", 5)
	require.NoError(t, err)
	require.NoError(t, f.coord.RequestCancellation(ctx, req))

	// The loser's entry is gone; only the winner's work remains and it
	// owns its own queue entry
	assert.Equal(t, 0, f.queueRepo.size())
	assert.True(t, f.coord.HasActive("task-race"))
}

func TestCoordinator_CircuitOpenRejects(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.breaker.RecordFailure()
	f.breaker.RecordFailure()

	req, err := cancellation.NewRequest("task-open", 1)
	require.NoError(t, err)
	err = f.coord.RequestCancellation(context.Background(), req)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, f.queueRepo.size())
}

func TestCoordinator_FailureKeepsQueueEntry(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	addJob(t, f.jobRepo, "bad-q", "task-fail", agentjob.PhaseRunning)
	f.jobRepo.terminateMovesToCancelled = false
	f.jobRepo.deleteErr = repository.NewRetryableError(errors.New("store down"))
	f.jobRepo.deleteFailures = 100

	req, err := cancellation.NewRequest("task-fail", 3)
	require.NoError(t, err)
	require.NoError(t, f.coord.RequestCancellation(ctx, req))

	assert.Eventually(t, func() bool {
		st, ok := f.coord.Status("task-fail")
		return ok && st.Phase == cancellation.PhaseFailed
	}, 5*time.Second, 10*time.Millisecond)

	// The entry survives for replay after restart
	assert.Equal(t, 1, f.queueRepo.size())

	st, _ := f.coord.Status("task-fail")
	assert.NotEmpty(t, st.Err)
	assert.NotEmpty(t, st.WorkerID)

	// A fresh request for the failed task is admitted, not absorbed
	f.jobRepo.deleteFailures = 0
	req2, err := cancellation.NewRequest("task-fail", 3)
	require.NoError(t, err)
	require.NoError(t, f.coord.RequestCancellation(ctx, req2))

	assert.Eventually(t, func() bool {
		return !f.coord.HasActive("task-fail")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCoordinator_ReplayPending(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	// Entries left behind by a crashed run
	addJob(t, f.jobRepo, "quality-r1", "task-r1", agentjob.PhaseRunning)
	req1, err := cancellation.NewRequest("task-r1", 11)
	require.NoError(t, err)
	require.NoError(t, f.queueRepo.Enqueue(ctx, req1))

	req2, err := cancellation.NewRequest("task-r2", 12)
	require.NoError(t, err)
	require.NoError(t, f.queueRepo.Enqueue(ctx, req2))

	f.prRepo.seed(11, nil)
	f.prRepo.seed(12, nil)

	replayed, err := f.coord.ReplayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)

	assert.Eventually(t, func() bool {
		return !f.coord.HasActive("task-r1") && !f.coord.HasActive("task-r2")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.queueRepo.size())
}

func TestCoordinator_NoLabelStepWithoutPR(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	addJob(t, f.jobRepo, "quality-n", "task-nopr", agentjob.PhaseRunning)

	req, err := cancellation.NewRequest("task-nopr", 0)
	require.NoError(t, err)
	require.NoError(t, f.coord.RequestCancellation(ctx, req))

	assert.Eventually(t, func() bool {
		return !f.coord.HasActive("task-nopr")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.prRepo.updateCalls)
}
