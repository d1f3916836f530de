package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinhost/billing/internal/lock"
	"github.com/coinhost/billing/internal/metrics"
)

type fakeSweeper struct {
	mu    sync.Mutex
	runs  int
	ran   chan struct{}
	block bool
	err   error
}

func newFakeSweeper() *fakeSweeper {
	return &fakeSweeper{ran: make(chan struct{}, 16)}
}

func (f *fakeSweeper) ProcessBilling(ctx context.Context) (*SweepReport, error) {
	f.mu.Lock()
	f.runs++
	block := f.block
	f.mu.Unlock()

	f.ran <- struct{}{}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &SweepReport{}, nil
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func waitRun(t *testing.T, f *fakeSweeper) {
	t.Helper()
	select {
	case <-f.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run")
	}
}

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	sweeper := newFakeSweeper()
	s := NewScheduler(sweeper, lock.NewLocal(), WithSchedulerLogger(testLogger()))

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, report)
	assert.Equal(t, 1, sweeper.count())
}

func TestScheduler_RunOnceSkipsWhenLocked(t *testing.T) {
	sweeper := newFakeSweeper()
	locker := lock.NewLocal()
	m := metrics.New(prometheus.NewRegistry())
	s := NewScheduler(sweeper, locker, WithSchedulerLogger(testLogger()), WithSchedulerMetrics(m))

	unlock, err := locker.TryLock(context.Background())
	require.NoError(t, err)
	defer unlock(context.Background())

	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.Zero(t, sweeper.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.WithLabelValues("skipped")))
}

func TestScheduler_RunOnceReleasesLock(t *testing.T) {
	sweeper := newFakeSweeper()
	sweeper.err = errors.New("boom")
	s := NewScheduler(sweeper, lock.NewLocal(), WithSchedulerLogger(testLogger()))

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)

	_, err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSweepInProgress)
	assert.Equal(t, 2, sweeper.count())
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	sweeper := newFakeSweeper()
	s := NewScheduler(sweeper, lock.NewLocal(),
		WithSchedulerLogger(testLogger()),
		WithInterval(time.Hour),
	)

	require.NoError(t, s.Start(context.Background()))
	waitRun(t, sweeper)

	waitDone(t, s.Stop())
	assert.Equal(t, 1, sweeper.count())
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	sweeper := newFakeSweeper()
	s := NewScheduler(sweeper, lock.NewLocal(),
		WithSchedulerLogger(testLogger()),
		WithInterval(time.Second),
	)

	require.NoError(t, s.Start(context.Background()))
	waitRun(t, sweeper)
	waitRun(t, sweeper)

	waitDone(t, s.Stop())
	assert.GreaterOrEqual(t, sweeper.count(), 2)
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler(newFakeSweeper(), lock.NewLocal(), WithSchedulerLogger(testLogger()))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(newFakeSweeper(), lock.NewLocal())
	waitDone(t, s.Stop())
}

func TestScheduler_StopCancelsRunningSweep(t *testing.T) {
	sweeper := newFakeSweeper()
	sweeper.block = true
	s := NewScheduler(sweeper, lock.NewLocal(), WithSchedulerLogger(testLogger()))

	require.NoError(t, s.Start(context.Background()))
	waitRun(t, sweeper)

	waitDone(t, s.Stop())
}

func TestScheduler_DefaultInterval(t *testing.T) {
	s := NewScheduler(newFakeSweeper(), lock.NewLocal(), WithInterval(0))
	assert.Equal(t, DefaultSweepInterval, s.interval)
}
