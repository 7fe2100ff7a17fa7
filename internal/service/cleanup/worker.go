package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper drops whatever it holds that has expired at now and reports how
// many entries went away.
type Sweeper interface {
	Sweep(now time.Time) int
}

type Worker struct {
	name     string
	interval time.Duration
	sweepers []Sweeper
	logger   *zap.Logger
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewWorker(name string, interval time.Duration, logger *zap.Logger, sweepers ...Sweeper) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		name:     name,
		interval: interval,
		sweepers: sweepers,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the ticker loop in the background until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
	w.logger.Info("cleanup.worker.started",
		zap.String("worker", w.name),
		zap.Duration("interval", w.interval),
	)
}

// Stop halts the loop and waits for it to exit. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce sweeps every registered store once.
func (w *Worker) RunOnce() int {
	now := w.now()
	removed := 0
	for _, s := range w.sweepers {
		removed += s.Sweep(now)
	}
	if removed > 0 {
		w.logger.Debug("cleanup.worker.swept",
			zap.String("worker", w.name),
			zap.Int("removed", removed),
		)
	}
	return removed
}
