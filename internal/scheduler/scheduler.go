package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// DefaultTick is how often the worker wakes to check whether a poll is due.
const DefaultTick = time.Second

// Waker is woken on every tick.
type Waker interface {
	Wake(ctx context.Context) bool
}

// Scheduler wakes a single worker on a fixed tick. Wakes never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	waker     Waker
	tick      time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// New creates a new Scheduler.
func New(waker Waker, tick time.Duration, logger *zap.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		waker:     waker,
		tick:      tick,
		logger:    logger.Named("scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the wake job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.tick).SingletonMode().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("worker started", zap.Duration("tick", s.tick))
	return nil
}

func (s *Scheduler) run() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.waker.Wake(s.ctx)
}

// Stop cancels the running wake, stops future ticks and waits for the
// worker to return.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.logger.Info("worker stopped")
}
