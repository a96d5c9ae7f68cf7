package trend

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler runs a reconcile pass on start and then every Interval.
// A zero Interval runs the start-up pass only.
type Scheduler struct {
	Reconciler *Reconciler
	Interval   time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
}

func (s Scheduler) Run(ctx context.Context) {
	if s.Reconciler == nil {
		return
	}
	s.runOnce(ctx)
	if s.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s Scheduler) runOnce(ctx context.Context) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err := s.Reconciler.Reconcile(runCtx)
	switch {
	case err == nil:
	case errors.Is(err, ErrReconcileInProgress):
		logger.Debug("reconcile: previous pass still running")
	case errors.Is(err, context.Canceled):
	default:
		logger.Warn("reconcile: pass failed",
			slog.Int("groupsMerged", report.GroupsMerged),
			slog.Int("recordsRemoved", report.RecordsRemoved),
			slog.String("error", err.Error()))
	}
}
