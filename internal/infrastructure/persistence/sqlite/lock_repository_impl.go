package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/lock"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// LockRepositoryImpl implements repository.LockRepository with SQLite.
//
// Acquisition relies on the primary key: the first writer's INSERT wins
// and later contenders hit the UNIQUE constraint. Takeover of an expired
// record is a conditional UPDATE keyed on the previous holder and renew
// time, so two contenders racing for the same stale record cannot both
// succeed.
type LockRepositoryImpl struct {
	db *sql.DB
}

// NewLockRepository creates a new SQLite-based lock repository
func NewLockRepository(db *sql.DB) repository.LockRepository {
	return &LockRepositoryImpl{db: db}
}

// TryAcquire attempts to acquire the lock for lockID on behalf of holder
func (r *LockRepositoryImpl) TryAcquire(ctx context.Context, lockID lock.LockID, holder string, duration time.Duration) (*lock.CancelLock, error) {
	candidate, err := lock.NewCancelLock(lockID, holder, duration)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cancel_locks (lock_id, holder, acquired_at, renewed_at, duration_seconds)
		VALUES (?, ?, ?, ?, ?)
	`, lockID.String(), holder,
		candidate.AcquiredAt().Format(time.RFC3339Nano),
		candidate.RenewedAt().Format(time.RFC3339Nano),
		int(duration.Seconds()))
	if err == nil {
		return candidate, nil
	}
	if !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("insert cancel lock: %w", err)
	}

	// A record exists. Load it to decide between takeover and refusal.
	existing, err := r.Find(ctx, lockID)
	if err != nil {
		if err == lock.ErrLockNotFound {
			// Released between our INSERT and Find; let the caller retry
			return nil, repository.NewRetryableError(fmt.Errorf("lock %s released mid-acquire", lockID))
		}
		return nil, err
	}

	if !existing.IsExpired() {
		return nil, &repository.LockHeldError{Holder: existing.Holder()}
	}

	// Expired: take over, but only if nobody beat us to it
	result, err := r.db.ExecContext(ctx, `
		UPDATE cancel_locks
		SET holder = ?, acquired_at = ?, renewed_at = ?, duration_seconds = ?
		WHERE lock_id = ? AND holder = ? AND renewed_at = ?
	`, holder,
		candidate.AcquiredAt().Format(time.RFC3339Nano),
		candidate.RenewedAt().Format(time.RFC3339Nano),
		int(duration.Seconds()),
		lockID.String(), existing.Holder(), existing.RenewedAt().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("take over cancel lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, repository.NewRetryableError(fmt.Errorf("lost takeover race for lock %s", lockID))
	}
	return candidate, nil
}

// Renew extends the lease while holder still owns the record
func (r *LockRepositoryImpl) Renew(ctx context.Context, lockID lock.LockID, holder string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE cancel_locks SET renewed_at = ? WHERE lock_id = ? AND holder = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), lockID.String(), holder)
	if err != nil {
		return fmt.Errorf("renew cancel lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return lock.ErrLockNotFound
	}
	return nil
}

// Release deletes the record if holder still owns it. Releasing a lock
// already taken over or deleted is not an error.
func (r *LockRepositoryImpl) Release(ctx context.Context, lockID lock.LockID, holder string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cancel_locks WHERE lock_id = ? AND holder = ?`,
		lockID.String(), holder)
	if err != nil {
		return fmt.Errorf("release cancel lock: %w", err)
	}
	return nil
}

// Find retrieves a lock record
func (r *LockRepositoryImpl) Find(ctx context.Context, lockID lock.LockID) (*lock.CancelLock, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT lock_id, holder, acquired_at, renewed_at, duration_seconds
		FROM cancel_locks WHERE lock_id = ?
	`, lockID.String())
	l, err := scanCancelLock(row.Scan)
	if err == sql.ErrNoRows {
		return nil, lock.ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cancel lock: %w", err)
	}
	return l, nil
}

// List lists all lock records
func (r *LockRepositoryImpl) List(ctx context.Context) ([]*lock.CancelLock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lock_id, holder, acquired_at, renewed_at, duration_seconds
		FROM cancel_locks ORDER BY acquired_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query cancel locks: %w", err)
	}
	defer rows.Close()

	var locks []*lock.CancelLock
	for rows.Next() {
		l, err := scanCancelLock(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan cancel lock: %w", err)
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cancel locks: %w", err)
	}
	return locks, nil
}

// DeleteExpired removes lapsed records left by crashed holders
func (r *LockRepositoryImpl) DeleteExpired(ctx context.Context) (int, error) {
	locks, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, l := range locks {
		if !l.IsExpired() {
			continue
		}
		// Conditioned on the renew time so a revived holder is not clobbered
		result, err := r.db.ExecContext(ctx,
			`DELETE FROM cancel_locks WHERE lock_id = ? AND renewed_at = ?`,
			l.LockID().String(), l.RenewedAt().Format(time.RFC3339Nano))
		if err != nil {
			return deleted, fmt.Errorf("delete expired lock: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			deleted++
		}
	}
	return deleted, nil
}

func scanCancelLock(scan func(dest ...interface{}) error) (*lock.CancelLock, error) {
	var (
		lockIDStr   string
		holder      string
		acquiredStr string
		renewedStr  string
		durationSec int
	)
	if err := scan(&lockIDStr, &holder, &acquiredStr, &renewedStr, &durationSec); err != nil {
		return nil, err
	}
	lockID, err := lock.NewLockID(lockIDStr)
	if err != nil {
		return nil, err
	}
	acquiredAt, err := time.Parse(time.RFC3339Nano, acquiredStr)
	if err != nil {
		return nil, fmt.Errorf("parse acquired_at: %w", err)
	}
	renewedAt, err := time.Parse(time.RFC3339Nano, renewedStr)
	if err != nil {
		return nil, fmt.Errorf("parse renewed_at: %w", err)
	}
	return lock.ReconstructCancelLock(lockID, holder, acquiredAt, renewedAt,
		time.Duration(durationSec)*time.Second), nil
}
