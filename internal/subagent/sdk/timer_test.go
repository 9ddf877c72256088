package sdk

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/workerpool"
)

// goroutineID parses the current goroutine number from the stack header.
func goroutineID() string {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// "goroutine 123 [running]:"
	var id []byte
	for _, c := range buf[len("goroutine "):] {
		if c == ' ' {
			break
		}
		id = append(id, c)
	}
	return string(id)
}

func TestScheduleOnce_RunsOnPoolAfterDelay(t *testing.T) {
	pool := workerpool.New(workerpool.Config{Name: "timers", Workers: 2, QueueSize: 8}, nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	b := NewBridge(Capabilities{Scheduler: pool})

	const delay = 30 * time.Millisecond
	submitter := goroutineID()
	start := time.Now()
	type result struct {
		at time.Time
		g  string
	}
	done := make(chan result, 1)

	b.ScheduleOnce(delay, func() {
		done <- result{at: time.Now(), g: goroutineID()}
	})

	select {
	case r := <-done:
		assert.GreaterOrEqual(t, r.at.Sub(start), delay)
		assert.NotEqual(t, submitter, r.g)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestScheduleOnce_NoScheduler(t *testing.T) {
	b := NewBridge(Capabilities{})
	ran := make(chan struct{}, 1)

	b.ScheduleOnce(0, func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("callback ran without a scheduler")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduleOnce_ForwardsDelay(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("ScheduleRelative", 5*time.Second, mockAnyFunc).Return().Once()
	b := NewBridge(Capabilities{Scheduler: sched})

	b.ScheduleOnce(5*time.Second, func() {})
	b.ScheduleOnce(time.Second, nil)

	sched.AssertExpectations(t)
	sched.AssertNumberOfCalls(t, "ScheduleRelative", 1)
}
