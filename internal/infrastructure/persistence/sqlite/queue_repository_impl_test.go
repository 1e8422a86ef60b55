package sqlite

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
)

func TestQueueRepository_EnqueueListRemove(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	first, err := cancellation.NewRequest("task-q-1", 101)
	require.NoError(t, err)
	second, err := cancellation.NewRequest("task-q-2", 102)
	require.NoError(t, err)
	second.RequestTime = first.RequestTime.Add(time.Second)

	require.NoError(t, repo.Enqueue(ctx, first))
	require.NoError(t, repo.Enqueue(ctx, second))

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "task-q-1", pending[0].TaskID)
	assert.Equal(t, 101, pending[0].PRNumber)
	assert.Equal(t, first.CorrelationID, pending[0].CorrelationID)
	assert.Equal(t, "task-q-2", pending[1].TaskID)

	require.NoError(t, repo.Remove(ctx, first.QueueKey()))

	pending, err = repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "task-q-2", pending[0].TaskID)

	// Removing an already-removed key is tolerated
	require.NoError(t, repo.Remove(ctx, first.QueueKey()))
}

func TestQueueRepository_ReEnqueueCarriesRetryCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	req, err := cancellation.NewRequest("task-q-retry", 103)
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(ctx, req))

	req.RetryCount = 2
	require.NoError(t, repo.Enqueue(ctx, req))

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
}
