package sysinfo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

// manualScheduler holds scheduled callbacks until the test fires them.
type manualScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	tasks  []func()
}

func (m *manualScheduler) ScheduleRelative(delay time.Duration, task func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, delay)
	m.tasks = append(m.tasks, task)
}

func (m *manualScheduler) fireNext(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	require.NotEmpty(t, m.tasks, "nothing scheduled")
	task := m.tasks[0]
	m.tasks = m.tasks[1:]
	m.mu.Unlock()
	task()
}

func (m *manualScheduler) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

type fakeCore struct {
	mu       sync.Mutex
	pushed   map[string]string
	problems map[string]sdk.Severity
	sched    *manualScheduler
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		pushed:   make(map[string]string),
		problems: make(map[string]sdk.Severity),
		sched:    &manualScheduler{},
	}
}

func (c *fakeCore) bridge() *sdk.Bridge {
	return sdk.NewBridge(sdk.Capabilities{
		WriteLog: func(sdk.LogLevel, int, string) {},
		PushData: func(name, value string, _ sdk.DataType, _ time.Time) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.pushed[name] = value
			return true
		},
		RegisterProblem: func(sev sdk.Severity, key, _ string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.problems[key] = sev
		},
		UnregisterProblem: func(key string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.problems, key)
		},
		Scheduler: c.sched,
	})
}

func (c *fakeCore) hasProblem(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.problems[key]
	return ok
}

func TestSubagent_Metadata(t *testing.T) {
	md := New(time.Second, 0).Metadata()
	require.NoError(t, md.Validate())
	assert.Equal(t, ID, md.ID)
}

func TestSubagent_PushesAndRearms(t *testing.T) {
	core := newFakeCore()
	s := New(time.Minute, 0)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	s.now = func() time.Time { return clock }
	s.goroutines = func() int { return 17 }
	s.heapAlloc = func() uint64 { return 4096 }

	require.NoError(t, s.Initialize(core.bridge()))
	require.Equal(t, 1, core.sched.pending())
	assert.Equal(t, time.Duration(0), core.sched.delays[0])

	clock = start.Add(90 * time.Second)
	core.sched.fireNext(t)

	assert.Equal(t, "17", core.pushed[ParamGoroutines])
	assert.Equal(t, "4096", core.pushed[ParamHeapAlloc])
	assert.Equal(t, "90", core.pushed[ParamUptime])
	assert.NotEmpty(t, core.pushed[ParamCPUs])
	assert.Equal(t, 1, s.Runs())

	require.Equal(t, 1, core.sched.pending(), "collection re-arms itself")
	assert.Equal(t, time.Minute, core.sched.delays[1])
}

func TestSubagent_GoroutineProblem(t *testing.T) {
	core := newFakeCore()
	s := New(time.Second, 100)
	count := 150
	s.goroutines = func() int { return count }

	require.NoError(t, s.Initialize(core.bridge()))
	core.sched.fireNext(t)
	assert.True(t, core.hasProblem(ProblemGoroutines))
	assert.Equal(t, sdk.SeverityMajor, core.problems[ProblemGoroutines])

	core.sched.fireNext(t)
	assert.True(t, core.hasProblem(ProblemGoroutines), "stays raised while above")

	count = 50
	core.sched.fireNext(t)
	assert.False(t, core.hasProblem(ProblemGoroutines))
}

func TestSubagent_ShutdownStopsRearming(t *testing.T) {
	core := newFakeCore()
	s := New(time.Second, 0)

	require.NoError(t, s.Initialize(core.bridge()))
	require.NoError(t, s.Shutdown(context.Background()))

	core.sched.fireNext(t)
	assert.Zero(t, s.Runs())
	assert.Zero(t, core.sched.pending())
	assert.Empty(t, core.pushed)
}

func TestSubagent_InitializeErrors(t *testing.T) {
	assert.ErrorIs(t, New(time.Second, 0).Initialize(nil), sdk.ErrNilBridge)

	err := New(0, 0).Initialize(sdk.NewBridge(sdk.Capabilities{}))
	var subErr *sdk.SubagentError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, ID, subErr.ID)
}

func TestSubagent_WithoutSchedulerNeverRuns(t *testing.T) {
	s := New(time.Second, 0)

	require.NoError(t, s.Initialize(sdk.NewBridge(sdk.Capabilities{})))
	assert.Zero(t, s.Runs())
}
