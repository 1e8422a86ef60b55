package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/app"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/pullreq"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// LabelService applies label transitions to pull requests as one
// conditional read-modify-write. Lost races re-read and re-fold the
// transitions rather than overwriting a concurrent change.
type LabelService struct {
	prRepo     repository.PullRequestRepository
	maxRetries int
}

// NewLabelService creates a label service
func NewLabelService(prRepo repository.PullRequestRepository, maxRetries int) *LabelService {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &LabelService{prRepo: prRepo, maxRetries: maxRetries}
}

// ApplyTransitions folds the transitions over the pull request's current
// labels and writes the result, conditioned on the labels not having
// changed since they were read. Retries concurrent modifications and
// transient store errors with quadratic backoff; all other errors
// propagate immediately.
func (s *LabelService) ApplyTransitions(ctx context.Context, prNumber int, transitions []pullreq.LabelTransition) error {
	if len(transitions) == 0 {
		return nil
	}

	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.applyOnce(ctx, prNumber, transitions)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConcurrentModification) && !repository.IsRetryable(err) {
			return err
		}
		app.GetLogger().Debug("label transition on PR %d retrying (attempt %d): %v",
			prNumber, attempt, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("label transition on PR %d failed after %d attempts: %w",
		prNumber, s.maxRetries, err)
}

func (s *LabelService) applyOnce(ctx context.Context, prNumber int, transitions []pullreq.LabelTransition) error {
	pr, err := s.prRepo.Get(ctx, prNumber)
	if err != nil {
		return err
	}

	desired := pullreq.ApplyTransitions(pr.Labels, transitions)
	if equalLabels(pr.Labels, desired) {
		return nil
	}
	return s.prRepo.UpdateLabels(ctx, prNumber, desired, pr.ETag)
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
