package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/app"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/pullreq"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// CoordinatorConfig tunes the cancellation coordinator
type CoordinatorConfig struct {
	ReadyLabel      string // Removed from the PR once cancellation runs
	InProgressLabel string // Added to the PR once cancellation runs
}

// Coordinator accepts cancellation requests and runs them asynchronously.
// Requests are persisted to the durable queue before any work starts, so
// a crash mid-cancellation is replayed on restart. An in-memory status
// map deduplicates concurrent requests for the same task; it is a cache,
// never the source of truth.
type Coordinator struct {
	cancelService *CancellationService
	labelService  *LabelService
	queueRepo     repository.QueueRepository
	breaker       *CircuitBreaker
	config        CoordinatorConfig

	active sync.Map // taskID -> *cancellation.Status
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. labelService may be nil when no
// label surface is configured.
func NewCoordinator(
	cancelService *CancellationService,
	labelService *LabelService,
	queueRepo repository.QueueRepository,
	breaker *CircuitBreaker,
	config CoordinatorConfig,
) *Coordinator {
	return &Coordinator{
		cancelService: cancelService,
		labelService:  labelService,
		queueRepo:     queueRepo,
		breaker:       breaker,
		config:        config,
	}
}

// RequestCancellation accepts a request and starts it in the background.
// A request for a task with a cancellation already pending or running is
// absorbed as success. Returns ErrCircuitOpen while the breaker rejects
// new work.
func (c *Coordinator) RequestCancellation(ctx context.Context, req *cancellation.Request) error {
	if v, exists := c.active.Load(req.TaskID); exists {
		if v.(*cancellation.Status).Phase != cancellation.PhaseFailed {
			app.GetLogger().Debug("cancellation for %s already active, absorbing [%s]",
				req.TaskID, req.CorrelationID)
			return nil
		}
		// A failed entry only blocks until someone asks again
		c.active.Delete(req.TaskID)
	}
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	// Durable first: the request must survive a crash from here on
	if err := c.queueRepo.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("persist cancellation request: %w", err)
	}

	status := &cancellation.Status{
		Phase:     cancellation.PhasePending,
		StartTime: time.Now().UTC(),
	}
	if _, loaded := c.active.LoadOrStore(req.TaskID, status); loaded {
		// Racing request won registration; its worker owns the task and
		// its own queue entry, so ours would only replay redundantly
		if err := c.queueRepo.Remove(ctx, req.QueueKey()); err != nil {
			app.GetLogger().Warn("dequeue of absorbed duplicate for %s failed: %v",
				req.TaskID, err)
		}
		return nil
	}

	c.wg.Add(1)
	go c.process(req)
	return nil
}

// ReplayPending re-enqueues requests the previous run never finished.
// Called once on startup, before new requests are accepted.
func (c *Coordinator) ReplayPending(ctx context.Context) (int, error) {
	pending, err := c.queueRepo.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending cancellations: %w", err)
	}
	replayed := 0
	for _, req := range pending {
		req.RetryCount++
		if err := c.queueRepo.Enqueue(ctx, req); err != nil {
			app.GetLogger().Error("replay of %s failed to persist: %v", req.TaskID, err)
			continue
		}
		if _, loaded := c.active.LoadOrStore(req.TaskID, &cancellation.Status{
			Phase:     cancellation.PhasePending,
			StartTime: time.Now().UTC(),
		}); loaded {
			continue
		}
		app.GetLogger().Info("replaying cancellation for %s (retry %d) [%s]",
			req.TaskID, req.RetryCount, req.CorrelationID)
		c.wg.Add(1)
		go c.process(req)
		replayed++
	}
	return replayed, nil
}

// Status returns the in-memory status for a task, if one is active
func (c *Coordinator) Status(taskID string) (*cancellation.Status, bool) {
	v, ok := c.active.Load(taskID)
	if !ok {
		return nil, false
	}
	return v.(*cancellation.Status), true
}

// HasActive reports whether the coordinator is tracking the task
func (c *Coordinator) HasActive(taskID string) bool {
	_, ok := c.active.Load(taskID)
	return ok
}

// StuckTasks returns tasks whose in-flight cancellation is older than age
func (c *Coordinator) StuckTasks(age time.Duration) []string {
	cutoff := time.Now().UTC().Add(-age)
	var stuck []string
	c.active.Range(func(k, v interface{}) bool {
		st := v.(*cancellation.Status)
		if st.Phase == cancellation.PhaseInProgress && st.StartTime.Before(cutoff) {
			stuck = append(stuck, k.(string))
		}
		return true
	})
	return stuck
}

// Evict drops a task's status entry. Used by recovery on stuck work.
func (c *Coordinator) Evict(taskID string) {
	c.active.Delete(taskID)
}

// Stop waits for in-flight cancellations to finish
func (c *Coordinator) Stop() {
	c.wg.Wait()
}

func (c *Coordinator) process(req *cancellation.Request) {
	defer c.wg.Done()
	ctx := context.Background()

	workerID := cancellation.NewCorrelationID("worker")
	status := &cancellation.Status{
		Phase:     cancellation.PhaseInProgress,
		StartTime: time.Now().UTC(),
		WorkerID:  workerID,
	}
	c.active.Store(req.TaskID, status)

	result, err := c.cancelService.CancelAgentsForTask(ctx, req.TaskID, req.PRNumber, req.CorrelationID)
	if err == nil && result.Reason == "" {
		err = c.transitionLabels(ctx, req.PRNumber)
	}

	if err != nil {
		c.breaker.RecordFailure()
		c.active.Store(req.TaskID, &cancellation.Status{
			Phase:     cancellation.PhaseFailed,
			StartTime: status.StartTime,
			EndTime:   time.Now().UTC(),
			Err:       err.Error(),
			WorkerID:  workerID,
		})
		app.GetLogger().Error("cancellation for %s failed: %v [%s]",
			req.TaskID, err, req.CorrelationID)
		// The queue entry stays for replay on restart
		return
	}

	c.breaker.RecordSuccess()
	if err := c.queueRepo.Remove(ctx, req.QueueKey()); err != nil {
		app.GetLogger().Warn("dequeue of %s failed: %v", req.TaskID, err)
	}
	// Completed entries leave the map at once; the durable state record
	// is where the outcome lives
	c.active.Delete(req.TaskID)
}

func (c *Coordinator) transitionLabels(ctx context.Context, prNumber int) error {
	if c.labelService == nil || prNumber <= 0 {
		return nil
	}
	var transitions []pullreq.LabelTransition
	if c.config.ReadyLabel != "" {
		t, err := pullreq.NewLabelTransition(pullreq.ActionRemove, []string{c.config.ReadyLabel}, "")
		if err != nil {
			return err
		}
		transitions = append(transitions, t)
	}
	if c.config.InProgressLabel != "" {
		t, err := pullreq.NewLabelTransition(pullreq.ActionAdd, []string{c.config.InProgressLabel}, "")
		if err != nil {
			return err
		}
		transitions = append(transitions, t)
	}
	return c.labelService.ApplyTransitions(ctx, prNumber, transitions)
}
