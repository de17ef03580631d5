// Package sweep runs the periodic maintenance passes of the points economy:
// lifting expired consequences and escalating overdue obligatory tasks.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// OverdueSweeper escalates past-due tasks.
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context) (int, error)
}

// ExpirySweeper lifts consequences whose time is up.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Report is the outcome of one pass.
type Report struct {
	Expired   int
	Escalated int
}

// Scheduler runs both sweeps on a fixed interval.
type Scheduler struct {
	mu       sync.RWMutex
	overdue  OverdueSweeper
	expiry   ExpirySweeper
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(overdue OverdueSweeper, expiry ExpirySweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		overdue:  overdue,
		expiry:   expiry,
		interval: interval,
		logger:   logger.With("component", "sweep"),
	}
}

// RunOnce expires consequences and then escalates overdue tasks. Both passes
// run even if the first fails.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var (
		r    Report
		errs []error
		err  error
	)
	if r.Expired, err = s.expiry.SweepExpired(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweep expired: %w", err))
	}
	if r.Escalated, err = s.overdue.SweepOverdue(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweep overdue: %w", err))
	}
	return r, errors.Join(errs...)
}

// Start begins the scheduler loop. A pass runs immediately, then once per
// interval until Stop or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	r, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("sweep failed", "error", err)
	}
	s.logger.Debug("sweep finished", "expired", r.Expired, "escalated", r.Escalated)
}
