package blocks

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nioinnovation/service-tests/core"
)

// IntervalBlock emits a signal on its default terminal every interval of
// simulated time. Because it schedules through the virtual scheduler,
// tests drive its emissions by advancing the clock rather than waiting.
type IntervalBlock struct {
	core.Base
	interval time.Duration
	count    atomic.Int64
	job      core.ScheduledJob
}

// NewIntervalBlock creates an interval block. The interval comes from
// the block config at Configure time.
func NewIntervalBlock() *IntervalBlock {
	return &IntervalBlock{}
}

// IntervalFactory produces interval blocks. The factory type name is
// "Interval".
func IntervalFactory() core.Block {
	return NewIntervalBlock()
}

// Configure resolves the interval from the block config. The value may
// be a duration string ("500ms") or a number of seconds.
func (b *IntervalBlock) Configure(ctx core.BlockContext) error {
	if err := b.Base.Configure(ctx); err != nil {
		return err
	}
	interval, err := parseInterval(ctx.Config["interval"])
	if err != nil {
		return fmt.Errorf("interval block %q: %w", b.Name(), err)
	}
	if interval <= 0 {
		return fmt.Errorf("interval block %q: interval must be positive, got %s", b.Name(), interval)
	}
	b.interval = interval
	return nil
}

// Start arms the repeating emission task.
func (b *IntervalBlock) Start() error {
	ctx := b.Context()
	if ctx.Scheduler == nil {
		return fmt.Errorf("interval block %q has no scheduler", b.Name())
	}
	job, err := ctx.Scheduler.ScheduleTask(b.emit, b.interval, true)
	if err != nil {
		return fmt.Errorf("interval block %q failed to schedule: %w", b.Name(), err)
	}
	b.job = job
	return nil
}

// Stop cancels the emission task.
func (b *IntervalBlock) Stop() error {
	if b.job != nil {
		b.job.Cancel()
	}
	return nil
}

// ProcessSignals is a no-op; the block is a pure source.
func (b *IntervalBlock) ProcessSignals([]core.Signal, string) error {
	return nil
}

// Emitted returns how many signals the block has emitted.
func (b *IntervalBlock) Emitted() int64 {
	return b.count.Load()
}

func (b *IntervalBlock) emit() error {
	n := b.count.Add(1)
	signal := core.NewSignal(map[string]any{
		"interval": b.Name(),
		"count":    n,
	})
	notifier := b.Context().Notifier
	if notifier == nil {
		return fmt.Errorf("interval block %q has no signal notifier", b.Name())
	}
	return notifier.NotifySignals(b, []core.Signal{signal}, core.DefaultTerminal)
}

func parseInterval(value any) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		interval, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		return interval, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case nil:
		return 0, fmt.Errorf("interval is required")
	default:
		return 0, fmt.Errorf("invalid interval type %T", value)
	}
}
