package watch

import (
	"context"
	"time"

	"vigil/internal/logger"
	"vigil/internal/types"
)

// ReconcileFunc runs one full reconciliation pass. Wired in by the app so the
// scheduler stays decoupled from the engine's result types.
type ReconcileFunc func(ctx context.Context) error

// Scheduler drives all periodic work from a single goroutine: it is the only
// writer of the store. Cycle order is fixed (expiry first, then state-machine
// checks, then trailing, then every reconcileEvery cycles a reconciliation
// pass) so a just-expired order is never also evaluated for fill or trail
// logic.
type Scheduler struct {
	watcher        *Watcher
	interval       time.Duration
	reconcileEvery int
	reconcile      ReconcileFunc
}

func NewScheduler(watcher *Watcher, interval time.Duration, reconcileEvery int, reconcile ReconcileFunc) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if reconcileEvery <= 0 {
		reconcileEvery = 120
	}
	return &Scheduler{
		watcher:        watcher,
		interval:       interval,
		reconcileEvery: reconcileEvery,
		reconcile:      reconcile,
	}
}

// Run blocks until ctx is cancelled. The in-flight cycle always finishes;
// cancellation is only observed between cycles.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("poll scheduler started: interval=%s reconcileEvery=%d", s.interval, s.reconcileEvery)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	cycle := 0
	for {
		select {
		case <-ctx.Done():
			logger.Infof("poll scheduler stopping after %d cycles", cycle)
			return nil
		case <-ticker.C:
			cycle++
			s.RunCycle(ctx, cycle%s.reconcileEvery == 0)
		}
	}
}

// RunCycle executes one supervision pass.
func (s *Scheduler) RunCycle(ctx context.Context, withReconcile bool) {
	start := time.Now()
	s.watcher.SweepExpiry(ctx)

	for _, o := range s.watcher.Store().All() {
		if err := s.watcher.CheckOrder(ctx, o.OrderID); err != nil {
			logger.Errorf("order %d check failed: %v", o.OrderID, err)
		}
	}

	for _, o := range s.watcher.Store().All() {
		if o.Status != types.StatusSLTPPlaced || o.TrailingTriggered {
			continue
		}
		if err := s.watcher.EvaluateTrailing(ctx, o.OrderID); err != nil {
			logger.Errorf("order %d trailing evaluation failed: %v", o.OrderID, err)
		}
	}

	if withReconcile && s.reconcile != nil {
		if err := s.reconcile(ctx); err != nil {
			logger.Errorf("reconciliation pass failed: %v", err)
		}
	}
	logger.Debugf("cycle done in %s, watching %d orders", time.Since(start).Round(time.Millisecond), s.watcher.Store().Len())
}
