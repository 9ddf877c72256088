package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

type mockSubagent struct {
	mock.Mock
	md sdk.Metadata
}

func newMockSubagent(id string, caps ...sdk.Capability) *mockSubagent {
	return &mockSubagent{md: sdk.Metadata{ID: id, Name: id, Version: "1.0.0", Capabilities: caps}}
}

func (m *mockSubagent) Metadata() sdk.Metadata { return m.md }

func (m *mockSubagent) Initialize(bridge *sdk.Bridge) error {
	return m.Called(bridge).Error(0)
}

func (m *mockSubagent) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type logLine struct {
	level sdk.LogLevel
	text  string
}

type logCapture struct {
	mu    sync.Mutex
	lines []logLine
}

func (c *logCapture) write(level sdk.LogLevel, _ int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, logLine{level, text})
}

func (c *logCapture) find(level sdk.LogLevel, substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if l.level == level && strings.Contains(l.text, substr) {
			return true
		}
	}
	return false
}

func newBridge() (*sdk.Bridge, *logCapture) {
	logs := &logCapture{}
	return sdk.NewBridge(sdk.Capabilities{WriteLog: logs.write}), logs
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(newMockSubagent("beacon.a")))

	err := r.Register(newMockSubagent("beacon.a"))
	assert.ErrorIs(t, err, sdk.ErrSubagentAlreadyRegistered)

	var subErr *sdk.SubagentError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "beacon.a", subErr.ID)
	assert.Equal(t, "register", subErr.Op)

	invalid := &mockSubagent{md: sdk.Metadata{ID: "x", Name: "x"}}
	assert.ErrorIs(t, r.Register(invalid), sdk.ErrMissingVersion)

	bogus := newMockSubagent("beacon.b", sdk.Capability("teleport:now"))
	assert.ErrorIs(t, r.Register(bogus), sdk.ErrInvalidCapability)

	status, err := r.Status("beacon.a")
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, status)

	_, err = r.Status("missing")
	assert.ErrorIs(t, err, sdk.ErrSubagentNotFound)
}

func TestRegistry_InitializeAll(t *testing.T) {
	metrics := observability.NewInMemoryMetrics()
	r := NewRegistry(nil).WithMetrics(metrics)
	bridge, logs := newBridge()

	good := newMockSubagent("beacon.good", sdk.CapWriteLog)
	bad := newMockSubagent("beacon.bad")
	after := newMockSubagent("beacon.after")
	good.On("Initialize", bridge).Return(nil).Once()
	bad.On("Initialize", bridge).Return(errors.New("no config")).Once()
	after.On("Initialize", bridge).Return(nil).Once()

	require.NoError(t, r.Register(good))
	require.NoError(t, r.Register(bad))
	require.NoError(t, r.Register(after))

	ready, err := r.InitializeAll(bridge)
	require.NoError(t, err)
	assert.Equal(t, 2, ready)

	status, _ := r.Status("beacon.bad")
	assert.Equal(t, StatusFailed, status)
	status, _ = r.Status("beacon.after")
	assert.Equal(t, StatusReady, status, "a failure does not stop later subagents")

	assert.True(t, logs.find(sdk.LogError, "beacon.bad failed to initialize: no config"))
	assert.True(t, logs.find(sdk.LogInfo, "beacon.good@1.0.0 initialized"))
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricSubagentFailures, observability.T("subagent", "beacon.bad")))

	// A second pass initializes nothing again.
	ready, err = r.InitializeAll(bridge)
	require.NoError(t, err)
	assert.Equal(t, 2, ready)

	good.AssertExpectations(t)
	bad.AssertExpectations(t)
	after.AssertExpectations(t)
}

type panickingSubagent struct{ *mockSubagent }

func (panickingSubagent) Initialize(*sdk.Bridge) error { panic("boom") }

func TestRegistry_InitializePanicMarksFailed(t *testing.T) {
	r := NewRegistry(nil)
	bridge, logs := newBridge()
	require.NoError(t, r.Register(panickingSubagent{newMockSubagent("beacon.panic")}))

	ready, err := r.InitializeAll(bridge)
	require.NoError(t, err)
	assert.Zero(t, ready)

	entries := r.List()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.ErrorContains(t, entries[0].Error, "boom")
	assert.True(t, logs.find(sdk.LogError, "panic during initialize"))
}

func TestRegistry_MissingCapabilities(t *testing.T) {
	r := NewRegistry(nil)
	bridge, logs := newBridge()
	s := newMockSubagent("beacon.needs", sdk.CapWriteLog, sdk.CapPushData, sdk.CapScheduler)
	s.On("Initialize", bridge).Return(nil)
	require.NoError(t, r.Register(s))

	_, err := r.InitializeAll(bridge)
	require.NoError(t, err)

	entries := r.List()
	assert.Equal(t, []sdk.Capability{sdk.CapPushData, sdk.CapScheduler}, entries[0].Missing)
	assert.Equal(t, StatusReady, entries[0].Status, "missing capabilities are not fatal")
	assert.True(t, logs.find(sdk.LogWarning, "capabilities not provided"))
}

func TestRegistry_InitializeAllNilBridge(t *testing.T) {
	_, err := NewRegistry(nil).InitializeAll(nil)
	assert.ErrorIs(t, err, sdk.ErrNilBridge)
}

func TestRegistry_ShutdownAll(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	bridge, _ := newBridge()

	var order []string
	first := newMockSubagent("beacon.first")
	second := newMockSubagent("beacon.second")
	failed := newMockSubagent("beacon.failed")
	for _, s := range []*mockSubagent{first, second} {
		s.On("Initialize", bridge).Return(nil)
	}
	failed.On("Initialize", bridge).Return(errors.New("nope"))
	first.On("Shutdown", ctx).Run(func(mock.Arguments) { order = append(order, "first") }).Return(nil)
	second.On("Shutdown", ctx).Run(func(mock.Arguments) { order = append(order, "second") }).Return(errors.New("stuck"))

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(failed))
	require.NoError(t, r.Register(second))
	_, err := r.InitializeAll(bridge)
	require.NoError(t, err)

	err = r.ShutdownAll(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "beacon.second")
	assert.Equal(t, []string{"second", "first"}, order)
	failed.AssertNotCalled(t, "Shutdown", mock.Anything)

	status, _ := r.Status("beacon.first")
	assert.Equal(t, StatusShutdown, status)

	// Already shut down subagents are skipped.
	require.NoError(t, r.ShutdownAll(ctx))
}
