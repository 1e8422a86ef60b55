package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/app"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/remediation"
)

// RecoveryConfig tunes the recovery manager
type RecoveryConfig struct {
	Interval       time.Duration // Reconciliation period
	StuckThreshold time.Duration // In-progress age treated as stuck
}

// DefaultRecoveryConfig returns default configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Interval:       30 * time.Second,
		StuckThreshold: 5 * time.Minute,
	}
}

// RecoveryService periodically reconciles in-memory bookkeeping,
// persisted state, and lock records back into agreement. Detection is a
// pure read pass; repair is idempotent, so overlapping runs and re-runs
// of the same finding are harmless.
type RecoveryService struct {
	coordinator  *Coordinator
	stateService *StateService
	lockService  LockService
	config       RecoveryConfig

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecoveryService creates a recovery service
func NewRecoveryService(
	coordinator *Coordinator,
	stateService *StateService,
	lockService LockService,
	config RecoveryConfig,
) *RecoveryService {
	if config.Interval <= 0 {
		config = DefaultRecoveryConfig()
	}
	return &RecoveryService{
		coordinator:  coordinator,
		stateService: stateService,
		lockService:  lockService,
		config:       config,
	}
}

// Start begins the periodic reconciliation loop
func (s *RecoveryService) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := s.RunOnce(loopCtx); err != nil {
					app.GetLogger().Error("recovery pass failed: %v", err)
				}
			}
		}
	}()
}

// Stop stops the loop and waits for an in-flight pass to finish
func (s *RecoveryService) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// RunOnce performs one detect-then-repair pass
func (s *RecoveryService) RunOnce(ctx context.Context) error {
	found, err := s.Detect(ctx)
	if err != nil {
		return err
	}
	for _, inc := range found {
		if err := s.Repair(ctx, inc); err != nil {
			app.GetLogger().Error("repair of %s for %s failed: %v",
				inc.Type, inc.TaskID, err)
		}
	}
	return nil
}

// Detect scans for drift without changing anything
func (s *RecoveryService) Detect(ctx context.Context) ([]cancellation.Inconsistency, error) {
	var found []cancellation.Inconsistency

	// Cancellations in flight far longer than any legitimate run
	for _, taskID := range s.coordinator.StuckTasks(s.config.StuckThreshold) {
		found = append(found, cancellation.Inconsistency{
			Type:        cancellation.InconsistencyStuckCancellation,
			TaskID:      taskID,
			Description: fmt.Sprintf("cancellation in progress longer than %s", s.config.StuckThreshold),
			Severity:    "high",
		})
	}

	// Lock records whose holder lapsed without releasing
	locks, err := s.lockService.List(ctx)
	if err != nil {
		return found, fmt.Errorf("list locks: %w", err)
	}
	for _, l := range locks {
		if l.IsExpired() {
			found = append(found, cancellation.Inconsistency{
				Type:        cancellation.InconsistencyOrphanedLock,
				TaskID:      l.LockID().String(),
				Description: fmt.Sprintf("expired lock held by %s since %s", l.Holder(), l.RenewedAt().Format(time.RFC3339)),
				Severity:    "medium",
			})
		}
	}

	// Persisted flags nobody is working on
	flagged, err := s.stateService.ListFlagged(ctx)
	if err != nil {
		return found, fmt.Errorf("list flagged states: %w", err)
	}
	for _, taskID := range flagged {
		if s.coordinator.HasActive(taskID) {
			continue
		}
		found = append(found, cancellation.Inconsistency{
			Type:        cancellation.InconsistencyStateFlag,
			TaskID:      taskID,
			Description: "cancellation flag set with no active cancellation",
			Severity:    "medium",
		})
	}

	return found, nil
}

// Repair fixes one finding. Safe to call again on an already-fixed one.
func (s *RecoveryService) Repair(ctx context.Context, inc cancellation.Inconsistency) error {
	app.GetLogger().Warn("repairing %s for %s: %s", inc.Type, inc.TaskID, inc.Description)

	switch inc.Type {
	case cancellation.InconsistencyStuckCancellation:
		s.coordinator.Evict(inc.TaskID)
		return s.clearFlag(ctx, inc.TaskID, "stuck cancellation evicted by recovery")

	case cancellation.InconsistencyOrphanedLock:
		_, err := s.lockService.CleanupExpired(ctx)
		return err

	case cancellation.InconsistencyStateFlag:
		return s.clearFlag(ctx, inc.TaskID, "orphaned cancellation flag cleared by recovery")

	default:
		return fmt.Errorf("unknown inconsistency type %q", inc.Type)
	}
}

func (s *RecoveryService) clearFlag(ctx context.Context, taskID, reason string) error {
	err := s.stateService.ClearCancellationFlag(ctx, taskID, reason)
	if errors.Is(err, remediation.ErrStateNotFound) {
		return nil
	}
	return err
}
