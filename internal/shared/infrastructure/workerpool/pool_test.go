package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/beacon/pkg/observability"
)

func startPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg, nil)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)
	return p
}

func TestNew_AppliesDefaults(t *testing.T) {
	p := New(Config{}, nil)

	stats := p.Stats()
	assert.Equal(t, "main", stats.Name)
	assert.Equal(t, 4, stats.Workers)
	assert.False(t, stats.Running)
	assert.Equal(t, 256, cap(p.queue))
}

func TestPool_SubmitRunsTasks(t *testing.T) {
	p := startPool(t, Config{Name: "test", Workers: 2, QueueSize: 16})

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.True(t, p.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(10), ran.Load())
	assert.Eventually(t, func() bool {
		return p.Stats().Completed == 10
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(10), p.Stats().Submitted)
}

func TestPool_SubmitBeforeStartIsQueued(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4}, nil)
	defer p.Stop()

	done := make(chan struct{})
	require.True(t, p.Submit(func() { close(done) }))
	assert.Equal(t, 1, p.Stats().Queued)

	require.NoError(t, p.Start(context.Background()))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued task did not run after start")
	}
}

func TestPool_SubmitQueueFull(t *testing.T) {
	metrics := observability.NewInMemoryMetrics()
	p := New(Config{Name: "tiny", Workers: 1, QueueSize: 1}, nil).WithMetrics(metrics)
	defer p.Stop()

	assert.True(t, p.Submit(func() {}))
	assert.False(t, p.Submit(func() {}))
	assert.False(t, p.Submit(nil))

	assert.Equal(t, uint64(1), p.Stats().Dropped)
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricPoolTasksDropped, observability.T("pool", "tiny")))
}

func TestPool_PanicIsRecovered(t *testing.T) {
	metrics := observability.NewInMemoryMetrics()
	p := New(Config{Name: "panicky", Workers: 1, QueueSize: 4}, nil).WithMetrics(metrics)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.True(t, p.Submit(func() { panic("boom") }))

	done := make(chan struct{})
	require.True(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
	assert.Eventually(t, func() bool {
		return p.Stats().Panics == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricPoolTaskPanics, observability.T("pool", "panicky")))
}

func TestPool_ScheduleRelative(t *testing.T) {
	p := startPool(t, Config{Workers: 1, QueueSize: 4})

	const delay = 50 * time.Millisecond
	start := time.Now()
	fired := make(chan time.Time, 1)
	p.ScheduleRelative(delay, func() { fired <- time.Now() })

	assert.Equal(t, uint64(1), p.Stats().Scheduled)

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), delay)
	case <-time.After(time.Second):
		t.Fatal("scheduled task did not run")
	}
	assert.Eventually(t, func() bool {
		return p.Stats().Pending == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPool_ScheduleRelativeWaitsForQueueSpace(t *testing.T) {
	p := startPool(t, Config{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	busy := make(chan struct{})
	require.True(t, p.Submit(func() {
		close(busy)
		<-release
	}))
	<-busy
	require.True(t, p.Submit(func() {}))
	require.False(t, p.Submit(func() {}))

	fired := make(chan struct{})
	p.ScheduleRelative(10*time.Millisecond, func() { close(fired) })

	// Let the timer fire against the full queue before freeing the worker.
	assert.Eventually(t, func() bool {
		return p.Stats().Pending == 0
	}, time.Second, time.Millisecond)
	close(release)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled task was lost while the queue was full")
	}
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(3), stats.Submitted)
}

func TestPool_StopReleasesScheduledTaskWaitingForSpace(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1}, nil)
	require.True(t, p.Submit(func() {}))

	var ran atomic.Bool
	p.ScheduleRelative(time.Millisecond, func() { ran.Store(true) })
	assert.Eventually(t, func() bool {
		return p.Stats().Pending == 0
	}, time.Second, time.Millisecond)

	p.Stop()

	assert.Eventually(t, func() bool {
		return p.Stats().Dropped == 2
	}, time.Second, time.Millisecond)
	assert.False(t, ran.Load())
}

func TestPool_ScheduleRelativeNegativeDelay(t *testing.T) {
	p := startPool(t, Config{Workers: 1, QueueSize: 4})

	fired := make(chan struct{})
	p.ScheduleRelative(-time.Second, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task with negative delay did not run")
	}
}

func TestPool_StopDropsPendingTimers(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4}, nil)
	require.NoError(t, p.Start(context.Background()))

	var ran atomic.Bool
	p.ScheduleRelative(time.Hour, func() { ran.Store(true) })
	assert.Equal(t, 1, p.Stats().Pending)

	p.Stop()

	stats := p.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.False(t, ran.Load())
}

func TestPool_AfterStop(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4}, nil)
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	p.Stop()

	assert.False(t, p.Submit(func() {}))
	p.ScheduleRelative(time.Millisecond, func() {})
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolStopped)

	stats := p.Stats()
	assert.Equal(t, uint64(0), stats.Scheduled)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestPool_StopWaitsForRunningTask(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4}, nil)
	require.NoError(t, p.Start(context.Background()))

	started := make(chan struct{})
	var finished atomic.Bool
	require.True(t, p.Submit(func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}))

	<-started
	p.Stop()
	assert.True(t, finished.Load())
}

func TestPool_StartIsIdempotent(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 4}, nil)
	defer p.Stop()

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.Stats().Running)
}
