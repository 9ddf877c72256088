// Package workerpool provides the shared pool that runs deferred agent work.
// Tasks are plain callbacks; a panicking task is recovered and counted so one
// misbehaving subagent cannot take the worker down with it.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// ErrPoolStopped is returned when starting a pool that was already stopped.
var ErrPoolStopped = errors.New("workerpool: pool stopped")

// Config holds pool sizing.
type Config struct {
	Name      string
	Workers   int
	QueueSize int
}

// DefaultConfig returns the defaults used by the agent.
func DefaultConfig() Config {
	return Config{
		Name:      "main",
		Workers:   4,
		QueueSize: 256,
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Name      string
	Workers   int
	Running   bool
	Queued    int
	Active    int64
	Pending   int
	Submitted uint64
	Completed uint64
	Scheduled uint64
	Dropped   uint64
	Panics    uint64
}

// Pool runs submitted tasks on a fixed set of workers.
type Pool struct {
	name    string
	workers int
	queue   chan func()
	logger  *slog.Logger
	metrics observability.Metrics

	mu      sync.RWMutex
	running bool
	stopped bool
	timers  map[*time.Timer]struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	group   *errgroup.Group

	active    atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	scheduled atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// New creates a pool. Tasks submitted before Start wait in the queue.
func New(cfg Config, logger *slog.Logger) *Pool {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		name:    cfg.Name,
		workers: cfg.Workers,
		queue:   make(chan func(), cfg.QueueSize),
		logger:  logger.With("component", "workerpool", "pool", cfg.Name),
		metrics: observability.NoopMetrics{},
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
	}
}

// WithMetrics sets the metrics sink.
func (p *Pool) WithMetrics(m observability.Metrics) *Pool {
	if m != nil {
		p.metrics = m
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(gctx)
			return nil
		})
	}

	p.cancel = cancel
	p.group = g
	p.running = true
	p.logger.Info("worker pool started", "workers", p.workers, "queue_size", cap(p.queue))
	return nil
}

// Stop cancels pending timers, waits for running tasks and discards
// anything still queued. The pool cannot be restarted.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.done)
	wasRunning := p.running
	p.running = false
	for t := range p.timers {
		if t.Stop() {
			p.dropped.Add(1)
		}
	}
	clear(p.timers)
	cancel, group := p.cancel, p.group
	p.mu.Unlock()

	if wasRunning {
		cancel()
		_ = group.Wait()
	}

	discarded := p.drain()
	p.metrics.Gauge(observability.MetricPoolQueueDepth, 0, p.tag())
	p.logger.Info("worker pool stopped",
		"completed", p.completed.Load(),
		"discarded", discarded,
	)
}

// Submit queues a task without blocking. It reports false when the pool is
// stopped or the queue is full.
func (p *Pool) Submit(task func()) bool {
	if task == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.drop("pool stopped")
		return false
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		p.metrics.Counter(observability.MetricPoolTasksSubmitted, 1, p.tag())
		p.metrics.Gauge(observability.MetricPoolQueueDepth, float64(len(p.queue)), p.tag())
		return true
	default:
		p.drop("queue full")
		return false
	}
}

// ScheduleRelative submits task once delay has elapsed. Negative delays run
// as soon as possible. A due task waits for queue space instead of being
// dropped; only stopping the pool discards it.
func (p *Pool) ScheduleRelative(delay time.Duration, task func()) {
	if task == nil {
		return
	}
	if delay < 0 {
		delay = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.logger.Warn("scheduled task dropped", "reason", "pool stopped", "delay", delay)
		p.dropped.Add(1)
		p.metrics.Counter(observability.MetricPoolTasksDropped, 1, p.tag())
		return
	}

	p.scheduled.Add(1)
	p.metrics.Counter(observability.MetricPoolTasksScheduled, 1, p.tag())

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()

		p.enqueueScheduled(task, delay)
	})
	p.timers[timer] = struct{}{}
}

// enqueueScheduled blocks until the queue has room or the pool stops. It
// runs on the timer goroutine, never on the scheduling caller.
func (p *Pool) enqueueScheduled(task func(), delay time.Duration) {
	select {
	case <-p.done:
		p.logger.Warn("scheduled task dropped", "reason", "pool stopped", "delay", delay)
		p.dropped.Add(1)
		p.metrics.Counter(observability.MetricPoolTasksDropped, 1, p.tag())
		return
	default:
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		p.metrics.Counter(observability.MetricPoolTasksSubmitted, 1, p.tag())
		p.metrics.Gauge(observability.MetricPoolQueueDepth, float64(len(p.queue)), p.tag())
	case <-p.done:
		p.logger.Warn("scheduled task dropped", "reason", "pool stopped", "delay", delay)
		p.dropped.Add(1)
		p.metrics.Counter(observability.MetricPoolTasksDropped, 1, p.tag())
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	running := p.running
	pending := len(p.timers)
	p.mu.RUnlock()

	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Running:   running,
		Queued:    len(p.queue),
		Active:    p.active.Load(),
		Pending:   pending,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Scheduled: p.scheduled.Load(),
		Dropped:   p.dropped.Load(),
		Panics:    p.panics.Load(),
	}
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.queue:
			p.run(task)
		}
	}
}

func (p *Pool) run(task func()) {
	start := time.Now()
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.metrics.Counter(observability.MetricPoolTaskPanics, 1, p.tag())
			p.logger.Error("task panicked", "panic", fmt.Sprint(r))
		}
		p.completed.Add(1)
		p.metrics.Counter(observability.MetricPoolTasksCompleted, 1, p.tag())
		p.metrics.Timing(observability.MetricPoolTaskDuration, time.Since(start), p.tag())
	}()

	task()
}

func (p *Pool) drain() int {
	n := 0
	for {
		select {
		case <-p.queue:
			n++
			p.dropped.Add(1)
		default:
			return n
		}
	}
}

func (p *Pool) drop(reason string) {
	p.dropped.Add(1)
	p.metrics.Counter(observability.MetricPoolTasksDropped, 1, p.tag())
	p.logger.Warn("task dropped", "reason", reason)
}

func (p *Pool) tag() observability.Tag {
	return observability.T("pool", p.name)
}
