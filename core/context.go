package core

import (
	"time"

	"github.com/rs/zerolog"
)

// SignalNotifier is the seam through which blocks emit signals into the
// graph. The signal router implements it.
type SignalNotifier interface {
	NotifySignals(source Block, signals []Signal, outputID string) error
}

// ScheduledJob is a cancellable handle to one scheduled task.
type ScheduledJob interface {
	// Cancel idempotently prevents any future firing.
	Cancel()

	// JumpAhead advances the owning scheduler's clock. The clock is
	// shared; the handle only provides a convenient way to reason about
	// time for this job.
	JumpAhead(d time.Duration) error
}

// TaskScheduler is the seam through which blocks schedule delayed or
// repeating work. The virtual scheduler implements it.
type TaskScheduler interface {
	ScheduleTask(target func() error, delay time.Duration, repeatable bool) (ScheduledJob, error)
}

// BlockContext carries the resolved config and harness services a block
// receives at Configure time.
type BlockContext struct {
	// Notifier routes signals the block emits.
	Notifier SignalNotifier

	// Config is the block's resolved configuration, env vars substituted.
	Config map[string]any

	// Scheduler schedules delayed and repeating work in virtual time.
	Scheduler TaskScheduler

	// Persisted is the block's persisted state override, nil when none.
	Persisted any

	// Logger is the harness logger scoped to this block.
	Logger zerolog.Logger
}
