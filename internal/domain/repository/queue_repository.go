package repository

import (
	"context"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
)

// QueueRepository is the durable cancellation queue. Requests are
// persisted before processing begins so a crash mid-cancellation can be
// replayed on restart, and removed once terminal.
type QueueRepository interface {
	// Enqueue persists a pending request under its queue key
	Enqueue(ctx context.Context, req *cancellation.Request) error

	// Remove deletes the entry for a queue key
	Remove(ctx context.Context, queueKey string) error

	// ListPending returns all persisted requests in request-time order
	ListPending(ctx context.Context) ([]*cancellation.Request, error)
}
