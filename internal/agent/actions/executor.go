// Package actions implements the action execution capability: named Go
// actions, command templates, and, when allowed, raw command lines.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/beacon/pkg/observability"
)

var (
	// ErrUnknownAction is returned for an unregistered action when shell
	// commands are not allowed.
	ErrUnknownAction = errors.New("actions: unknown action")
	// ErrCircuitOpen is returned while an action's breaker is open.
	ErrCircuitOpen = errors.New("actions: circuit open")
	// ErrQueueFull is logged when an asynchronous action cannot be queued.
	ErrQueueFull = errors.New("actions: worker queue full")
)

// Action is a named operation the agent can run.
type Action func(ctx context.Context, args []string) error

// Submitter queues work for a background worker.
type Submitter interface {
	Submit(task func()) bool
}

// Config configures the executor.
type Config struct {
	// AllowShellCommands runs unknown action names as command lines.
	AllowShellCommands bool

	// Timeout bounds a single action.
	Timeout time.Duration

	// Breaker settings, per action.
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MaxRequests:      1,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 3,
	}
}

// Executor runs actions behind per-action circuit breakers.
type Executor struct {
	config  Config
	pool    Submitter
	logger  *slog.Logger
	metrics observability.Metrics

	mu       sync.RWMutex
	actions  map[string]Action
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewExecutor creates an executor. pool backs ExecuteAsync and may be nil,
// in which case asynchronous actions run on their own goroutine.
func NewExecutor(cfg Config, pool Submitter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	return &Executor{
		config:   cfg,
		pool:     pool,
		logger:   logger.With("component", "actions"),
		metrics:  observability.NoopMetrics{},
		actions:  make(map[string]Action),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// WithMetrics sets the metrics sink.
func (e *Executor) WithMetrics(m observability.Metrics) *Executor {
	if m != nil {
		e.metrics = m
	}
	return e
}

// Register adds or replaces a named action.
func (e *Executor) Register(name string, action Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[name] = action
}

// RegisterCommand registers a command line template. $1 to $9 are replaced
// by the matching argument, or removed when the argument is missing.
func (e *Executor) RegisterCommand(name, template string) {
	e.Register(name, func(ctx context.Context, args []string) error {
		return runCommand(ctx, SubstituteArgs(template, args))
	})
}

// Names returns the registered action names.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.actions))
	for n := range e.actions {
		names = append(names, n)
	}
	return names
}

// Execute runs the named action and waits for it.
func (e *Executor) Execute(ctx context.Context, name string, args []string) error {
	action, err := e.resolve(name)
	if err != nil {
		e.metrics.Counter(observability.MetricActionsFailed, 1, observability.T("reason", "unknown"))
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	_, err = e.breaker(name).Execute(func() (struct{}, error) {
		return struct{}{}, observability.TimeOperation(ctx, e.logger, e.metrics, "action."+name, func(ctx context.Context) error {
			return action(ctx, args)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		e.metrics.Counter(observability.MetricActionsFailed, 1, observability.T("reason", "circuit_open"))
		return fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	}
	if err != nil {
		e.metrics.Counter(observability.MetricActionsFailed, 1, observability.T("reason", "error"))
		return fmt.Errorf("action %s: %w", name, err)
	}

	e.metrics.Counter(observability.MetricActionsExecuted, 1)
	return nil
}

// ExecuteAsync queues the action and returns immediately. Failures are
// logged.
func (e *Executor) ExecuteAsync(name string, args []string) {
	args = append([]string(nil), args...)
	task := func() {
		if err := e.Execute(context.Background(), name, args); err != nil {
			e.logger.Warn("action failed", "action", name, "error", err)
		}
	}

	if e.pool == nil {
		go task()
		return
	}
	if !e.pool.Submit(task) {
		e.metrics.Counter(observability.MetricActionsFailed, 1, observability.T("reason", "queue_full"))
		e.logger.Warn("action dropped", "action", name, "error", ErrQueueFull)
	}
}

func (e *Executor) resolve(name string) (Action, error) {
	e.mu.RLock()
	action, ok := e.actions[name]
	e.mu.RUnlock()
	if ok {
		return action, nil
	}
	if !e.config.AllowShellCommands || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return func(ctx context.Context, args []string) error {
		return runCommand(ctx, SubstituteArgs(name, args))
	}, nil
}

func (e *Executor) breaker(name string) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[name]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: e.config.MaxRequests,
		Interval:    e.config.Interval,
		Timeout:     e.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= e.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Info("circuit breaker state changed",
				"action", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	e.breakers[name] = b
	return b
}

// SubstituteArgs replaces $1 to $9 in template with args.
func SubstituteArgs(template string, args []string) string {
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c == '$' && i+1 < len(template) && template[i+1] >= '1' && template[i+1] <= '9' {
			if n := int(template[i+1] - '1'); n < len(args) {
				b.WriteString(args[n])
			}
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func runCommand(ctx context.Context, line string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", line)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", line)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
