package service

import (
	"context"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/app"
)

// SweepConfig tunes the retention sweep
type SweepConfig struct {
	Interval  time.Duration // Sweep period
	Retention time.Duration // Record age before removal
}

// DefaultSweepConfig returns default configuration
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:  6 * time.Hour,
		Retention: 7 * 24 * time.Hour,
	}
}

// SweepService periodically removes remediation records nothing will
// read again. In-progress work is never swept regardless of age.
type SweepService struct {
	stateService *StateService
	config       SweepConfig

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweepService creates a sweep service
func NewSweepService(stateService *StateService, config SweepConfig) *SweepService {
	if config.Interval <= 0 {
		config = DefaultSweepConfig()
	}
	return &SweepService{stateService: stateService, config: config}
}

// Start begins the periodic sweep loop
func (s *SweepService) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				removed, err := s.stateService.SweepExpired(loopCtx, s.config.Retention)
				if err != nil {
					app.GetLogger().Error("retention sweep failed: %v", err)
					continue
				}
				if removed > 0 {
					app.GetLogger().Info("retention sweep removed %d records", removed)
				}
			}
		}
	}()
}

// Stop stops the loop and waits for an in-flight sweep to finish
func (s *SweepService) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}
