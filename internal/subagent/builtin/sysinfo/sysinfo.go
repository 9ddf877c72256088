// Package sysinfo is a builtin subagent that reports the agent process
// itself: goroutines, heap, uptime and CPU count. It re-arms itself through
// the bridge's deferred scheduler and raises a problem while the goroutine
// count stays above a threshold.
package sysinfo

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

const (
	// ID is the subagent identifier.
	ID = "beacon.sysinfo"

	// ProblemGoroutines is the problem key raised above the threshold.
	ProblemGoroutines = "sysinfo.goroutines"
)

// Pushed parameter names.
const (
	ParamGoroutines = "Process.Goroutines"
	ParamHeapAlloc  = "Process.HeapAlloc"
	ParamUptime     = "Process.Uptime"
	ParamCPUs       = "Process.CPUs"
)

// Subagent collects process statistics.
type Subagent struct {
	interval  time.Duration
	threshold int

	goroutines func() int
	heapAlloc  func() uint64
	now        func() time.Time

	mu        sync.Mutex
	bridge    *sdk.Bridge
	startedAt time.Time
	raised    bool
	stopped   bool
	runs      int
}

// New creates the subagent. threshold <= 0 disables the goroutine problem.
func New(interval time.Duration, threshold int) *Subagent {
	return &Subagent{
		interval:   interval,
		threshold:  threshold,
		goroutines: runtime.NumGoroutine,
		heapAlloc:  readHeapAlloc,
		now:        time.Now,
	}
}

// Metadata implements sdk.Subagent.
func (s *Subagent) Metadata() sdk.Metadata {
	return sdk.Metadata{
		ID:          ID,
		Name:        "System Information",
		Version:     "1.0.0",
		Author:      "beacon",
		Description: "Pushes agent process statistics",
		Tags:        []string{"process", "runtime"},
		Capabilities: []sdk.Capability{
			sdk.CapWriteLog,
			sdk.CapPushData,
			sdk.CapRegisterProblem,
			sdk.CapUnregisterProblem,
			sdk.CapScheduler,
		},
	}
}

// Initialize implements sdk.Subagent. The first collection runs right away
// on the scheduler.
func (s *Subagent) Initialize(bridge *sdk.Bridge) error {
	if bridge == nil {
		return sdk.ErrNilBridge
	}
	if s.interval <= 0 {
		return sdk.NewSubagentError(ID, "initialize", fmt.Errorf("interval must be positive, got %s", s.interval))
	}

	s.mu.Lock()
	s.bridge = bridge
	s.startedAt = s.now()
	s.stopped = false
	s.mu.Unlock()

	bridge.WriteDebugLog(3, "sysinfo: collecting every %s", s.interval)
	bridge.ScheduleOnce(0, s.collect)
	return nil
}

// Shutdown implements sdk.Subagent. A pending collection still fires but
// does nothing.
func (s *Subagent) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Runs returns how many collections completed.
func (s *Subagent) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Subagent) collect() {
	s.mu.Lock()
	if s.stopped || s.bridge == nil {
		s.mu.Unlock()
		return
	}
	bridge := s.bridge
	uptime := s.now().Sub(s.startedAt)
	s.mu.Unlock()

	goroutines := s.goroutines()
	bridge.PushParameterDataInt32(ParamGoroutines, int32(goroutines))
	bridge.PushParameterDataUInt64(ParamHeapAlloc, s.heapAlloc())
	bridge.PushParameterDataInt64(ParamUptime, int64(uptime/time.Second))
	bridge.PushParameterDataInt32(ParamCPUs, int32(runtime.NumCPU()))

	s.checkGoroutines(bridge, goroutines)

	s.mu.Lock()
	s.runs++
	stopped := s.stopped
	s.mu.Unlock()

	if !stopped {
		bridge.ScheduleOnce(s.interval, s.collect)
	}
}

func (s *Subagent) checkGoroutines(bridge *sdk.Bridge, n int) {
	if s.threshold <= 0 {
		return
	}

	s.mu.Lock()
	over := n > s.threshold
	changed := over != s.raised
	s.raised = over
	s.mu.Unlock()

	if !changed {
		return
	}
	if over {
		bridge.RegisterProblem(sdk.SeverityMajor, ProblemGoroutines,
			fmt.Sprintf("%d goroutines running, threshold %d", n, s.threshold))
		bridge.WriteLog(sdk.LogWarning, "sysinfo: goroutine count %d above %d", n, s.threshold)
		return
	}
	bridge.UnregisterProblem(ProblemGoroutines)
	bridge.WriteLog(sdk.LogInfo, "sysinfo: goroutine count back to %d", n)
}

func readHeapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

var _ sdk.Subagent = (*Subagent)(nil)
