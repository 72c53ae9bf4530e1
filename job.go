package servicetest

import (
	"time"

	"github.com/nioinnovation/service-tests/core"
)

// Job is a cancellable handle to one scheduled task. The caller that
// scheduled the task owns the handle; it stays valid for the task's
// entire lifetime regardless of how many times the task has fired.
type Job struct {
	scheduler *VirtualScheduler
	task      *scheduledTask
}

var _ core.ScheduledJob = (*Job)(nil)

// Cancel idempotently unschedules the task. A firing already in
// progress completes but the task never re-arms.
func (j *Job) Cancel() {
	j.scheduler.Unschedule(j)
}

// JumpAhead advances the scheduler's clock by d. The clock is global to
// the scheduler; the handle only lets test code reason in terms of
// "advance time for this job".
func (j *Job) JumpAhead(d time.Duration) error {
	return j.scheduler.Advance(d)
}
