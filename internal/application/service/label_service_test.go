package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/pullreq"
)

func mustTransition(t *testing.T, action pullreq.TransitionAction, labels []string, from string) pullreq.LabelTransition {
	t.Helper()
	tr, err := pullreq.NewLabelTransition(action, labels, from)
	require.NoError(t, err)
	return tr
}

func TestLabelService_AppliesFold(t *testing.T) {
	repo := NewMockPullRequestRepository()
	repo.seed(42, []string{"ready-for-remediation", "bug"})
	svc := NewLabelService(repo, 5)

	err := svc.ApplyTransitions(context.Background(), 42, []pullreq.LabelTransition{
		mustTransition(t, pullreq.ActionRemove, []string{"ready-for-remediation"}, ""),
		mustTransition(t, pullreq.ActionAdd, []string{"remediation-in-progress"}, ""),
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"bug", "remediation-in-progress"}, repo.currentLabels(42))
	// One conditional write for the whole batch
	assert.Equal(t, 1, repo.updateCalls)
}

func TestLabelService_ReplaceTransition(t *testing.T) {
	repo := NewMockPullRequestRepository()
	repo.seed(7, []string{"state-a", "keep"})
	svc := NewLabelService(repo, 5)

	err := svc.ApplyTransitions(context.Background(), 7, []pullreq.LabelTransition{
		mustTransition(t, pullreq.ActionReplace, []string{"state-b"}, "state-a"),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"keep", "state-b"}, repo.currentLabels(7))
}

func TestLabelService_RetriesConcurrentModification(t *testing.T) {
	repo := NewMockPullRequestRepository()
	repo.seed(9, []string{"old"})
	repo.conflictsLeft = 2
	svc := NewLabelService(repo, 5)

	err := svc.ApplyTransitions(context.Background(), 9, []pullreq.LabelTransition{
		mustTransition(t, pullreq.ActionAdd, []string{"new"}, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.updateCalls)
	assert.ElementsMatch(t, []string{"new", "old"}, repo.currentLabels(9))
}

func TestLabelService_GivesUpAfterRetryBudget(t *testing.T) {
	repo := NewMockPullRequestRepository()
	repo.seed(11, []string{"old"})
	repo.conflictsLeft = 100
	svc := NewLabelService(repo, 3)

	err := svc.ApplyTransitions(context.Background(), 11, []pullreq.LabelTransition{
		mustTransition(t, pullreq.ActionAdd, []string{"new"}, ""),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, repo.updateCalls)
}

func TestLabelService_NoWriteWhenAlreadyDesired(t *testing.T) {
	repo := NewMockPullRequestRepository()
	repo.seed(13, []string{"done"})
	svc := NewLabelService(repo, 5)

	err := svc.ApplyTransitions(context.Background(), 13, []pullreq.LabelTransition{
		mustTransition(t, pullreq.ActionAdd, []string{"done"}, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, repo.updateCalls)
}

func TestLabelService_EmptyTransitionsIsNoOp(t *testing.T) {
	repo := NewMockPullRequestRepository()
	svc := NewLabelService(repo, 5)

	require.NoError(t, svc.ApplyTransitions(context.Background(), 1, nil))
	assert.Equal(t, 0, repo.updateCalls)
}
