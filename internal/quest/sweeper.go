package quest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/questboard/internal/metrics"
	"github.com/dukerupert/questboard/internal/store"
)

// Sweeper periodically fails todo tasks whose deadline has passed. This is
// the only producer of the failed status; the flip is conditional on the
// task still being todo, so a submission that lands during a sweep wins.
type Sweeper struct {
	mu       sync.RWMutex
	tasks    *store.TaskStore
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(tasks *store.TaskStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		tasks:    tasks,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(time.Now())
			}
		}
	}()
}

// Stop gracefully stops the sweep loop.
func (s *Sweeper) Stop() {
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

// Sweep runs one pass. Exposed so tests can trigger it without the ticker.
func (s *Sweeper) Sweep(now time.Time) {
	n, err := s.tasks.MarkFailedPastDeadline(now)
	if err != nil {
		s.logger.Error("deadline sweep", "error", err)
		return
	}
	if n > 0 {
		metrics.TaskTransitions.WithLabelValues("fail").Add(float64(n))
		s.logger.Info("tasks failed past deadline", "count", n)
	}
}
