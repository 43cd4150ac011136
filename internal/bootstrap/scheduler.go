package bootstrap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldform/model"
)

// Runner is a unit of bootstrap work.
type Runner interface {
	Run(ctx context.Context) model.ProcessingResult
}

// Scheduler runs a Runner off the caller's goroutine, one run at a time. It
// holds at most one pending request: triggering while a request is already
// pending replaces it instead of queueing another run.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *zap.Logger
	pending  chan struct{}

	mu      sync.RWMutex
	last    model.ProcessingResult
	lastAt  time.Time
	running bool
}

// NewScheduler creates a Scheduler. A positive interval also triggers a run
// on every tick.
func NewScheduler(runner Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		pending:  make(chan struct{}, 1),
	}
}

// Trigger requests a run. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.pending <- struct{}{}:
	default:
		s.logger.Debug("bootstrap already pending, request replaced")
	}
}

// Start processes requests until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.Trigger()
		case <-s.pending:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	result := s.runner.Run(ctx)

	s.mu.Lock()
	s.running = false
	s.last = result
	s.lastAt = time.Now()
	s.mu.Unlock()
}

// Status reports the outcome of the latest completed run, when it finished
// and whether a run is in progress.
func (s *Scheduler) Status() (last model.ProcessingResult, at time.Time, running bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastAt, s.running
}
