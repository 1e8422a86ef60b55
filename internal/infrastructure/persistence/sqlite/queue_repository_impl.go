package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// QueueRepositoryImpl implements repository.QueueRepository with SQLite
type QueueRepositoryImpl struct {
	db *sql.DB
}

// NewQueueRepository creates a new SQLite-based queue repository
func NewQueueRepository(db *sql.DB) repository.QueueRepository {
	return &QueueRepositoryImpl{db: db}
}

// Enqueue persists a pending request under its queue key. Re-enqueueing
// the same key replaces the entry, carrying the updated retry count.
func (r *QueueRepositoryImpl) Enqueue(ctx context.Context, req *cancellation.Request) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cancellation_queue
			(queue_key, entry_id, task_id, pr_number, correlation_id, request_time, priority, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(queue_key) DO UPDATE SET
			retry_count = excluded.retry_count,
			priority = excluded.priority
	`, req.QueueKey(), ulid.Make().String(), req.TaskID, req.PRNumber,
		req.CorrelationID, req.RequestTime.UTC().Format(time.RFC3339Nano),
		req.Priority, req.RetryCount)
	if err != nil {
		return fmt.Errorf("enqueue cancellation request: %w", err)
	}
	return nil
}

// Remove deletes the entry for a queue key
func (r *QueueRepositoryImpl) Remove(ctx context.Context, queueKey string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM cancellation_queue WHERE queue_key = ?`, queueKey); err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	return nil
}

// ListPending returns all persisted requests in request-time order
func (r *QueueRepositoryImpl) ListPending(ctx context.Context) ([]*cancellation.Request, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id, pr_number, correlation_id, request_time, priority, retry_count
		FROM cancellation_queue ORDER BY request_time
	`)
	if err != nil {
		return nil, fmt.Errorf("query cancellation queue: %w", err)
	}
	defer rows.Close()

	var reqs []*cancellation.Request
	for rows.Next() {
		var (
			req     cancellation.Request
			timeStr string
		)
		if err := rows.Scan(&req.TaskID, &req.PRNumber, &req.CorrelationID,
			&timeStr, &req.Priority, &req.RetryCount); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		req.RequestTime, err = time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return nil, fmt.Errorf("parse request_time: %w", err)
		}
		reqs = append(reqs, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cancellation queue: %w", err)
	}
	return reqs, nil
}
