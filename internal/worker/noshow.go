package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Sweeper cancels unattended appointments dated before the given day.
type Sweeper interface {
	SweepNoShows(ctx context.Context, date string) (int, error)
}

// NoShowWorker runs a sweep at startup and then on every tick. Each sweep
// targets days strictly before Today().
type NoShowWorker struct {
	sweeper  Sweeper
	today    func() string
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewNoShowWorker(sweeper Sweeper, today func() string, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *NoShowWorker {
	return &NoShowWorker{
		sweeper:  sweeper,
		today:    today,
		clock:    clock,
		interval: interval,
		timeout:  time.Minute,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (w *NoShowWorker) Run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.Chan():
			w.RunOnce(ctx)
		}
	}
}

func (w *NoShowWorker) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := w.clock.Now()
	date := w.today()
	n, err := w.sweeper.SweepNoShows(runCtx, date)
	if err != nil {
		w.logger.Error("no-show sweep failed", zap.String("before", date), zap.Int("cancelled", n), zap.Error(err))
		return n
	}
	w.logger.Info("no-show sweep complete",
		zap.String("before", date),
		zap.Int("cancelled", n),
		zap.Duration("took", w.clock.Since(start)))
	return n
}
