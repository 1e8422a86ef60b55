package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/YoshitsuguKoike/remloop/internal/app"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/remediation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// Escalator notifies a human when automated remediation must stop for a
// task. Implementations must be safe for concurrent use.
type Escalator interface {
	Escalate(ctx context.Context, taskID string, iteration int, reason string) error
}

// StateStats aggregates the flat state projections
type StateStats struct {
	TotalRecords    int            `json:"total_records"`
	TotalIterations int            `json:"total_iterations"`
	ByStatus        map[string]int `json:"by_status"`
}

// StateService owns remediation state reads and writes. Every mutation
// follows read-recompute-retry: a conflicting save is never re-written
// blindly, the document is re-read and the mutation recomputed on the
// fresh copy.
type StateService struct {
	stateRepo repository.StateRepository
	escalator Escalator

	// Feedback compression triggers when the persisted document reaches
	// this many bytes.
	compressionThreshold int
}

const conflictRetryLimit = 5

// NewStateService creates a state service. escalator may be nil.
func NewStateService(stateRepo repository.StateRepository, escalator Escalator, compressionThreshold int) *StateService {
	if compressionThreshold <= 0 {
		compressionThreshold = 950 * 1024
	}
	return &StateService{
		stateRepo:            stateRepo,
		escalator:            escalator,
		compressionThreshold: compressionThreshold,
	}
}

// GetState returns the state for a task, or (nil, nil) when absent
func (s *StateService) GetState(ctx context.Context, taskID string) (*remediation.State, error) {
	return s.stateRepo.Find(ctx, taskID)
}

// ListSummaries returns flat projections of all managed records
func (s *StateService) ListSummaries(ctx context.Context) ([]repository.StateSummary, error) {
	return s.stateRepo.ListSummaries(ctx)
}

// Stats aggregates the flat projections
func (s *StateService) Stats(ctx context.Context) (StateStats, error) {
	summaries, err := s.stateRepo.ListSummaries(ctx)
	if err != nil {
		return StateStats{}, err
	}
	stats := StateStats{ByStatus: make(map[string]int)}
	for _, sum := range summaries {
		stats.TotalRecords++
		stats.TotalIterations += sum.Iteration
		stats.ByStatus[string(sum.Status)]++
	}
	return stats, nil
}

// IncrementIteration advances the iteration counter for a task, creating
// the record on first use. At the cap it fails with
// *remediation.MaxIterationsError and escalates; the status flip to
// MaxIterationsReached is what halts further automation.
func (s *StateService) IncrementIteration(ctx context.Context, taskID string) (int, error) {
	var count int
	err := s.withConflictRetry(ctx, func() error {
		state, err := s.loadOrInit(ctx, taskID)
		if err != nil {
			return err
		}

		count, err = state.IncrementIteration()
		if err != nil {
			// Persist the status flip before surfacing the cap
			if saveErr := s.stateRepo.Save(ctx, state); saveErr != nil {
				if errors.Is(saveErr, repository.ErrConflict) {
					return saveErr
				}
				return fmt.Errorf("save capped state: %w", saveErr)
			}
			s.escalate(ctx, state, "maximum remediation iterations reached")
			return err
		}
		return s.stateRepo.Save(ctx, state)
	})
	return count, err
}

// AppendFeedback appends a feedback entry to an existing task's history.
// Duplicates (same source comment and timestamp) are dropped silently.
// The description is NFC-normalized before storage.
func (s *StateService) AppendFeedback(ctx context.Context, taskID string, entry remediation.FeedbackEntry) error {
	entry.Description = norm.NFC.String(entry.Description)

	return s.withConflictRetry(ctx, func() error {
		state, err := s.stateRepo.Find(ctx, taskID)
		if err != nil {
			return err
		}
		if state == nil {
			return remediation.ErrStateNotFound
		}

		state.AppendFeedback(entry)

		size, err := s.stateRepo.SerializedSize(ctx, taskID)
		if err != nil {
			return err
		}
		if size >= s.compressionThreshold {
			before := len(state.FeedbackHistory())
			state.CompressFeedback()
			app.GetLogger().Info("compressed feedback for %s: %d -> %d entries",
				taskID, before, len(state.FeedbackHistory()))
		}
		return s.stateRepo.Save(ctx, state)
	})
}

// ResolveFeedback marks the feedback entries carrying sourceCommentID as
// resolved, dropping their compression protection. Resolving a comment
// with no matching entry is a no-op, so redelivered resolution events
// change nothing.
func (s *StateService) ResolveFeedback(ctx context.Context, taskID, sourceCommentID string) error {
	return s.withConflictRetry(ctx, func() error {
		state, err := s.stateRepo.Find(ctx, taskID)
		if err != nil {
			return err
		}
		if state == nil {
			return remediation.ErrStateNotFound
		}
		if state.ResolveFeedback(sourceCommentID) == 0 {
			app.GetLogger().Debug("no unresolved feedback for comment %s on %s",
				sourceCommentID, taskID)
			return nil
		}
		return s.stateRepo.Save(ctx, state)
	})
}

// RecoverState returns a usable state for a task no matter what is
// persisted: absent records become fresh Initialized ones, damaged
// records are repaired in place. It never fails on malformed content,
// only on store errors.
func (s *StateService) RecoverState(ctx context.Context, taskID string) (*remediation.State, error) {
	var recovered *remediation.State
	err := s.withConflictRetry(ctx, func() error {
		state, err := s.stateRepo.Find(ctx, taskID)
		if err != nil {
			return err
		}
		if state == nil {
			state, err = remediation.NewState(taskID)
			if err != nil {
				return err
			}
			if err := s.stateRepo.Save(ctx, state); err != nil {
				return err
			}
			recovered = state
			return nil
		}

		repairs := state.Repair()
		if len(repairs) > 0 {
			app.GetLogger().Warn("repaired state for %s: %v", taskID, repairs)
			if err := s.stateRepo.Save(ctx, state); err != nil {
				return err
			}
		}
		recovered = state
		return nil
	})
	return recovered, err
}

// BeginCancellation sets the persisted cancellation guard for a task,
// creating the record if needed. Returns false when a cancellation is
// already in progress; the caller must then do nothing.
func (s *StateService) BeginCancellation(ctx context.Context, taskID string) (bool, error) {
	var begun bool
	err := s.withConflictRetry(ctx, func() error {
		state, err := s.loadOrInit(ctx, taskID)
		if err != nil {
			return err
		}
		begun = state.BeginCancellation()
		if !begun {
			return nil
		}
		return s.stateRepo.Save(ctx, state)
	})
	return begun, err
}

// EndCancellation clears the guard and records per-job errors
func (s *StateService) EndCancellation(ctx context.Context, taskID string, jobErrs []string) error {
	return s.mutate(ctx, taskID, func(state *remediation.State) {
		state.EndCancellation(jobErrs)
	})
}

// ClearCancellationFlag clears a stale guard with an audit note.
// Used by recovery, not by the normal cancellation path.
func (s *StateService) ClearCancellationFlag(ctx context.Context, taskID string, reason string) error {
	return s.mutate(ctx, taskID, func(state *remediation.State) {
		state.ClearCancellationFlag(reason)
	})
}

// ListFlagged returns task IDs whose persisted record carries the
// cancellation guard
func (s *StateService) ListFlagged(ctx context.Context) ([]string, error) {
	return s.stateRepo.ListFlagged(ctx)
}

// MarkCompleted marks a task's remediation as finished
func (s *StateService) MarkCompleted(ctx context.Context, taskID string) error {
	return s.mutate(ctx, taskID, func(state *remediation.State) {
		state.MarkCompleted()
	})
}

// MarkFailed marks a task's remediation as failed with a reason
func (s *StateService) MarkFailed(ctx context.Context, taskID string, reason string) error {
	return s.mutate(ctx, taskID, func(state *remediation.State) {
		state.MarkFailed(reason)
	})
}

// MarkTerminated marks a task's remediation as externally terminated
func (s *StateService) MarkTerminated(ctx context.Context, taskID string, reason string) error {
	return s.mutate(ctx, taskID, func(state *remediation.State) {
		state.MarkTerminated(reason)
	})
}

// SweepExpired removes records whose last update is older than retention.
// Records whose status is InProgress are never swept regardless of age.
func (s *StateService) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	summaries, err := s.stateRepo.ListSummaries(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for _, sum := range summaries {
		if sum.Status == remediation.StatusInProgress {
			continue
		}
		if !sum.LastUpdate.Before(cutoff) {
			continue
		}

		// The flat column could lag the document; trust the document
		state, err := s.stateRepo.Find(ctx, sum.TaskID)
		if err != nil {
			return removed, err
		}
		if state == nil || state.Status() == remediation.StatusInProgress {
			continue
		}

		if err := s.stateRepo.Remove(ctx, sum.TaskID); err != nil {
			return removed, err
		}
		removed++
		app.GetLogger().Info("swept expired state %s (last update %s)",
			sum.TaskID, sum.LastUpdate.Format(time.RFC3339))
	}
	return removed, nil
}

func (s *StateService) mutate(ctx context.Context, taskID string, fn func(*remediation.State)) error {
	return s.withConflictRetry(ctx, func() error {
		state, err := s.stateRepo.Find(ctx, taskID)
		if err != nil {
			return err
		}
		if state == nil {
			return remediation.ErrStateNotFound
		}
		fn(state)
		return s.stateRepo.Save(ctx, state)
	})
}

func (s *StateService) loadOrInit(ctx context.Context, taskID string) (*remediation.State, error) {
	state, err := s.stateRepo.Find(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return remediation.NewState(taskID)
	}
	return state, nil
}

// withConflictRetry runs fn, re-running it from scratch when the save
// lost a concurrency race. fn must re-read before mutating.
func (s *StateService) withConflictRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= conflictRetryLimit; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, repository.ErrConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 20 * time.Millisecond):
		}
	}
	return fmt.Errorf("gave up after %d conflicting saves: %w", conflictRetryLimit, err)
}

func (s *StateService) escalate(ctx context.Context, state *remediation.State, reason string) {
	if s.escalator == nil {
		return
	}
	if err := s.escalator.Escalate(ctx, state.TaskID(), state.Iteration(), reason); err != nil {
		app.GetLogger().Error("escalation for %s failed: %v", state.TaskID(), err)
	}
}
