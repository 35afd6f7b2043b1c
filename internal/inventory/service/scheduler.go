package service

import (
	"context"
	"time"

	"github.com/freshmart/freshmart-backend/pkg/logger"
)

// ExpirySweepScheduler runs the expiry sweep periodically in the background
type ExpirySweepScheduler struct {
	expiry   *ExpiryService
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
}

// NewExpirySweepScheduler creates a new expiry sweep scheduler
func NewExpirySweepScheduler(expiry *ExpiryService, interval time.Duration, log *logger.Logger) *ExpirySweepScheduler {
	return &ExpirySweepScheduler{
		expiry:   expiry,
		interval: interval,
		logger:   log.WithComponent("expiry-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine. A sweep runs
// immediately, then on every tick.
func (s *ExpirySweepScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("expiry sweep scheduler started")

		s.runSweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("expiry sweep scheduler stopped")
				return
			case <-ticker.C:
				s.runSweep(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine
func (s *ExpirySweepScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *ExpirySweepScheduler) runSweep(ctx context.Context) {
	start := time.Now()

	count, err := s.expiry.SweepExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return
	}

	s.logger.Debug().
		Dur("duration", time.Since(start)).
		Int("expired", count).
		Msg("expiry sweep completed")
}
