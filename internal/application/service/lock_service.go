package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/app"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/lock"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// Lease is a held cancel lock with its renewal goroutine running.
// Callers must Release it; abandoning a lease leaves renewal running
// until Stop.
type Lease struct {
	lockID lock.LockID
	holder string
}

// LockID returns the leased lock's ID
func (l *Lease) LockID() lock.LockID { return l.lockID }

// Holder returns the holder identity the lease was acquired under
func (l *Lease) Holder() string { return l.holder }

// LockService manages cancel-lock lifecycle and renewal
type LockService interface {
	// Acquire takes the lock and starts background renewal.
	// Fails with *repository.LockHeldError while another holder's lease
	// is valid.
	Acquire(ctx context.Context, lockID lock.LockID) (*Lease, error)

	// Release stops renewal and deletes the lock record
	Release(ctx context.Context, lease *Lease) error

	// Find finds a lock record by ID
	Find(ctx context.Context, lockID lock.LockID) (*lock.CancelLock, error)

	// List lists all lock records
	List(ctx context.Context) ([]*lock.CancelLock, error)

	// CleanupExpired removes lapsed records left by crashed holders
	CleanupExpired(ctx context.Context) (int, error)

	// Stop stops all renewal goroutines and waits for them to exit
	Stop() error
}

// LockServiceConfig holds configuration for lock service
type LockServiceConfig struct {
	Duration      time.Duration // Lease duration
	RenewInterval time.Duration // How often to renew held leases
}

// DefaultLockServiceConfig returns default configuration
func DefaultLockServiceConfig() LockServiceConfig {
	return LockServiceConfig{
		Duration:      30 * time.Second,
		RenewInterval: 10 * time.Second,
	}
}

// LockServiceImpl implements LockService
type LockServiceImpl struct {
	lockRepo repository.LockRepository
	config   LockServiceConfig

	// Renewal management
	mu       sync.Mutex
	renewals map[string]context.CancelFunc // lockID -> cancel function
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLockService creates a new lock service
func NewLockService(lockRepo repository.LockRepository, config LockServiceConfig) LockService {
	if config.Duration <= 0 {
		config = DefaultLockServiceConfig()
	}
	return &LockServiceImpl{
		lockRepo: lockRepo,
		config:   config,
		renewals: make(map[string]context.CancelFunc),
	}
}

// Acquire takes the lock and starts its renewal goroutine
func (s *LockServiceImpl) Acquire(ctx context.Context, lockID lock.LockID) (*Lease, error) {
	holder := lock.HolderIdentity()

	held, err := s.lockRepo.TryAcquire(ctx, lockID, holder, s.config.Duration)
	if err != nil {
		return nil, err
	}

	s.startRenewal(lockID, holder)
	app.GetLogger().Debug("acquired lock %s as %s (expires %s)",
		lockID, holder, held.ExpiresAt().Format(time.RFC3339))

	return &Lease{lockID: lockID, holder: holder}, nil
}

// Release stops renewal and deletes the lock record
func (s *LockServiceImpl) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	s.stopRenewal(lease.lockID)

	if err := s.lockRepo.Release(ctx, lease.lockID, lease.holder); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Find finds a lock record by ID
func (s *LockServiceImpl) Find(ctx context.Context, lockID lock.LockID) (*lock.CancelLock, error) {
	return s.lockRepo.Find(ctx, lockID)
}

// List lists all lock records
func (s *LockServiceImpl) List(ctx context.Context) ([]*lock.CancelLock, error) {
	return s.lockRepo.List(ctx)
}

// CleanupExpired removes lapsed records left by crashed holders
func (s *LockServiceImpl) CleanupExpired(ctx context.Context) (int, error) {
	return s.lockRepo.DeleteExpired(ctx)
}

// Stop stops all renewal goroutines and waits for them to exit
func (s *LockServiceImpl) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		for _, cancel := range s.renewals {
			cancel()
		}
		s.renewals = make(map[string]context.CancelFunc)
		s.mu.Unlock()

		s.wg.Wait()
	})
	return nil
}

// startRenewal starts a renewal goroutine for a held lease
func (s *LockServiceImpl) startRenewal(lockID lock.LockID, holder string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop existing renewal if any
	if cancel, exists := s.renewals[lockID.String()]; exists {
		cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.renewals[lockID.String()] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.RenewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.lockRepo.Renew(context.Background(), lockID, holder); err != nil {
					// Lock released or taken over, stop renewing
					app.GetLogger().Warn("lock %s renewal stopped: %v", lockID, err)
					s.stopRenewal(lockID)
					return
				}
			}
		}
	}()
}

// stopRenewal stops the renewal goroutine for a lock
func (s *LockServiceImpl) stopRenewal(lockID lock.LockID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, exists := s.renewals[lockID.String()]; exists {
		cancel()
		delete(s.renewals, lockID.String())
	}
}
