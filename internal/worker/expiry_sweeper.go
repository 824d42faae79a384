package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"github.com/garyjia/approval-gateway/internal/lifecycle"
)

// DefaultSweepInterval is how often the sweeper scans for overdue requests
const DefaultSweepInterval = 30 * time.Second

// DueLister finds pending requests whose expiry deadline has passed
type DueLister interface {
	ListDuePending(ctx context.Context, now time.Time) ([]string, error)
}

// Expirer applies the expired transition to one request
type Expirer interface {
	Expire(ctx context.Context, id string) (*entity.ApprovalRequest, error)
}

// ExpirySweeper periodically flips overdue pending requests to expired.
// Each flip goes through the same compare-and-set as a manual decision, so
// a request decided between the scan and the sweep is left alone.
type ExpirySweeper struct {
	due      DueLister
	expirer  Expirer
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExpirySweeper creates an expiry sweeper. A non-positive interval falls
// back to DefaultSweepInterval.
func NewExpirySweeper(due DueLister, expirer Expirer, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpirySweeper{
		due:      due,
		expirer:  expirer,
		interval: interval,
		logger:   logger,
	}
}

// Name returns the worker name
func (s *ExpirySweeper) Name() string {
	return "expiry-sweeper"
}

// Start launches the sweep loop
func (s *ExpirySweeper) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop cancels the loop and waits for the current sweep to finish
func (s *ExpirySweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *ExpirySweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one scan-and-expire pass and returns how many requests it
// expired. Exported so a pass can be triggered directly in tests.
func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	ids, err := s.due.ListDuePending(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Expiry scan failed", zap.Error(err))
		return 0
	}

	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return expired
		}
		_, err := s.expirer.Expire(ctx, id)
		switch {
		case err == nil:
			expired++
			s.logger.Info("Request expired", zap.String("id", id))
		case lifecycle.IsConflict(err) || errors.Is(err, lifecycle.ErrNotFound):
			// Decided or removed between scan and sweep, nothing to do
		default:
			s.logger.Error("Failed to expire request", zap.String("id", id), zap.Error(err))
		}
	}

	return expired
}
