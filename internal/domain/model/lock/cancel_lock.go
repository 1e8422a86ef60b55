package lock

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// CancelLock is the shared coordination record serializing a cancellation
// workflow across controller replicas. Ownership is exclusive to the
// holder until the lease expires (renew time + duration in the past), at
// which point any contender may take over.
type CancelLock struct {
	lockID     LockID
	holder     string
	acquiredAt time.Time
	renewedAt  time.Time
	duration   time.Duration
}

// HolderIdentity builds a unique identity for this process, used as the
// lock holder name. Stable for the process lifetime is not required; each
// acquisition may carry a fresh suffix.
func HolderIdentity() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}

// NewCancelLock creates a new lock record owned by holder
func NewCancelLock(lockID LockID, holder string, duration time.Duration) (*CancelLock, error) {
	if holder == "" {
		return nil, fmt.Errorf("holder identity cannot be empty")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("lock duration must be positive")
	}
	now := time.Now().UTC()
	return &CancelLock{
		lockID:     lockID,
		holder:     holder,
		acquiredAt: now,
		renewedAt:  now,
		duration:   duration,
	}, nil
}

// ReconstructCancelLock rebuilds a CancelLock from persisted data
func ReconstructCancelLock(
	lockID LockID,
	holder string,
	acquiredAt, renewedAt time.Time,
	duration time.Duration,
) *CancelLock {
	return &CancelLock{
		lockID:     lockID,
		holder:     holder,
		acquiredAt: acquiredAt,
		renewedAt:  renewedAt,
		duration:   duration,
	}
}

// IsExpired reports whether the lease has lapsed and may be taken over
func (l *CancelLock) IsExpired() bool {
	return time.Now().UTC().After(l.renewedAt.Add(l.duration))
}

// Renew extends the lease from now
func (l *CancelLock) Renew() {
	l.renewedAt = time.Now().UTC()
}

// HeldBy reports whether holder currently owns the record
func (l *CancelLock) HeldBy(holder string) bool {
	return l.holder == holder
}

// Getters
func (l *CancelLock) LockID() LockID          { return l.lockID }
func (l *CancelLock) Holder() string          { return l.holder }
func (l *CancelLock) AcquiredAt() time.Time   { return l.acquiredAt }
func (l *CancelLock) RenewedAt() time.Time    { return l.renewedAt }
func (l *CancelLock) Duration() time.Duration { return l.duration }
func (l *CancelLock) ExpiresAt() time.Time    { return l.renewedAt.Add(l.duration) }
