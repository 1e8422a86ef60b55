package sqlite

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/agentjob"
)

func TestJobRepository_ListByTaskSelectsOnlyLabeled(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	for _, spec := range []struct {
		name, taskID, agentType string
	}{
		{"quality-task-a-1", "task-a", "quality"},
		{"testing-task-a-1", "task-a", "testing"},
		{"quality-task-b-1", "task-b", "quality"},
	} {
		job, err := agentjob.NewAgentJob(spec.name, spec.taskID, spec.agentType)
		require.NoError(t, err)
		job.SetPhase(agentjob.PhaseRunning)
		require.NoError(t, repo.Save(ctx, job))
	}

	jobs, err := repo.ListByTask(ctx, "task-a")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, "task-a", j.TaskID())
	}

	jobs, err = repo.ListByTask(ctx, "task-missing")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobRepository_RequestTermination(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job, err := agentjob.NewAgentJob("quality-task-c-1", "task-c", "quality")
	require.NoError(t, err)
	job.SetPhase(agentjob.PhaseRunning)
	require.NoError(t, repo.Save(ctx, job))

	require.NoError(t, repo.RequestTermination(ctx, "quality-task-c-1"))

	found, err := repo.Find(ctx, "quality-task-c-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.TerminateSet())
	assert.Equal(t, agentjob.PhaseRunning, found.Phase())

	err = repo.RequestTermination(ctx, "no-such-job")
	assert.Error(t, err)
}

func TestJobRepository_DeleteIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job, err := agentjob.NewAgentJob("quality-task-d-1", "task-d", "quality")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, job))

	require.NoError(t, repo.Delete(ctx, "quality-task-d-1"))

	found, err := repo.Find(ctx, "quality-task-d-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	// Already gone: still not an error
	require.NoError(t, repo.Delete(ctx, "quality-task-d-1"))
}
