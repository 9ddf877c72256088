package sdk

import "time"

// Scheduler runs a task once after a delay on a worker it owns.
type Scheduler interface {
	ScheduleRelative(delay time.Duration, task func())
}

// ScheduleOnce runs cb on the shared pool no sooner than delay from now.
// Without a scheduler the call does nothing and cb never runs. A scheduled
// callback cannot be cancelled.
func (b *Bridge) ScheduleOnce(delay time.Duration, cb func()) {
	if cb == nil {
		return
	}
	if s := b.table().Scheduler; s != nil {
		s.ScheduleRelative(delay, cb)
	}
}
