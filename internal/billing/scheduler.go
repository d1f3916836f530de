package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coinhost/billing/internal/lock"
	"github.com/coinhost/billing/internal/metrics"
	"github.com/robfig/cron/v3"
)

// DefaultSweepInterval is how often the scheduler runs a billing sweep.
const DefaultSweepInterval = time.Hour

// Sweeper runs one billing sweep.
type Sweeper interface {
	ProcessBilling(ctx context.Context) (*SweepReport, error)
}

// Scheduler runs a Sweeper once at start and then on a fixed interval. Each
// run holds the sweep lock, so at most one sweep is active across instances.
type Scheduler struct {
	sweeper  Sweeper
	locker   lock.Locker
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Billing

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	initial sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// WithSchedulerMetrics records skipped runs.
func WithSchedulerMetrics(m *metrics.Billing) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(sweeper Sweeper, locker lock.Locker, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		sweeper:  sweeper,
		locker:   locker,
		interval: DefaultSweepInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a sweep immediately in the background and schedules the rest.
// Runs use a context derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.run(runCtx)
	}))

	s.cron = c
	s.cancel = cancel

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.run(runCtx)
	}()

	c.Start()
	s.logger.Info("billing scheduler started", "interval", s.interval)
	return nil
}

// Stop cancels in-flight sweeps and stops scheduling new ones. The returned
// context is done once every running sweep has returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	done, finish := context.WithCancel(context.Background())
	if s.cron == nil {
		finish()
		return done
	}

	s.cancel()
	cronDone := s.cron.Stop()
	s.cron = nil

	go func() {
		<-cronDone.Done()
		s.initial.Wait()
		finish()
	}()
	return done
}

// RunOnce runs a single sweep under the sweep lock. It returns
// ErrSweepInProgress if another sweep holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (*SweepReport, error) {
	unlock, err := s.locker.TryLock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			if s.metrics != nil {
				s.metrics.SweepRuns.WithLabelValues("skipped").Inc()
			}
			return nil, ErrSweepInProgress
		}
		return nil, err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			s.logger.Warn("failed to release sweep lock", "error", err)
		}
	}()

	return s.sweeper.ProcessBilling(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSweepInProgress):
		s.logger.Info("billing sweep skipped: already running elsewhere")
	default:
		s.logger.Error("billing sweep failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
