package repository

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/lock"
)

// LockRepository manages the shared cancel-lock records.
//
// TryAcquire attempts to create the record; if one exists it is taken
// over only when expired, otherwise the call fails with *LockHeldError
// naming the current holder. Ownership, not record existence, is
// authoritative: a Release racing an external takeover is tolerated.
type LockRepository interface {
	// TryAcquire creates or takes over the lock record for lockID
	TryAcquire(ctx context.Context, lockID lock.LockID, holder string, duration time.Duration) (*lock.CancelLock, error)

	// Renew extends the lease by updating its renew time, but only while
	// holder still owns the record
	Renew(ctx context.Context, lockID lock.LockID, holder string) error

	// Release deletes the record if holder still owns it
	Release(ctx context.Context, lockID lock.LockID, holder string) error

	// Find retrieves a lock record, or lock.ErrLockNotFound
	Find(ctx context.Context, lockID lock.LockID) (*lock.CancelLock, error)

	// List lists all lock records, for operational tooling and recovery
	List(ctx context.Context) ([]*lock.CancelLock, error)

	// DeleteExpired removes lapsed records whose holder never released
	// them. Returns the number removed.
	DeleteExpired(ctx context.Context) (int, error)
}
