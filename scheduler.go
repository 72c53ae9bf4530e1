package servicetest

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/nioinnovation/service-tests/core"
)

// VirtualScheduler owns simulated time for one test. Scheduled tasks
// fire only when the test explicitly advances the clock; nothing ever
// fires on real elapsed time. Each test owns its own instance and resets
// it at teardown, so no clock state leaks across tests.
type VirtualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks taskHeap
}

// scheduledTask is one armed task: pending until cancelled, due at
// scheduledAt + delay, re-armed at due + delay after each firing when
// repeatable.
type scheduledTask struct {
	target    func() error
	delay     time.Duration
	repeat    bool
	due       time.Duration
	seq       uint64
	cancelled bool
}

var _ core.TaskScheduler = (*VirtualScheduler)(nil)

// NewVirtualScheduler creates a scheduler with the clock at zero.
func NewVirtualScheduler() *VirtualScheduler {
	return &VirtualScheduler{}
}

// Now returns the current virtual time.
func (s *VirtualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// ScheduleTask arms target to fire once the clock has advanced delay
// past now. Repeatable tasks re-arm after each firing until cancelled;
// one-shot tasks retire after their single firing. A negative delay is
// an InvalidDelayError, as is a zero delay for a repeatable task: a
// zero-period task would never stop coming due. The returned handle is
// a *Job.
func (s *VirtualScheduler) ScheduleTask(target func() error, delay time.Duration, repeatable bool) (core.ScheduledJob, error) {
	if target == nil {
		return nil, fmt.Errorf("task target must not be nil")
	}
	if delay < 0 || (repeatable && delay == 0) {
		return nil, core.InvalidDelayError{Delay: delay}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	task := &scheduledTask{
		target: target,
		delay:  delay,
		repeat: repeatable,
		due:    s.now + delay,
		seq:    s.seq,
	}
	heap.Push(&s.tasks, task)
	return &Job{scheduler: s, task: task}, nil
}

// Unschedule idempotently cancels a job's task. A task in the middle of
// firing completes that firing but does not re-arm.
func (s *VirtualScheduler) Unschedule(job *Job) {
	if job == nil || job.task == nil {
		return
	}
	s.mu.Lock()
	job.task.cancelled = true
	s.mu.Unlock()
}

// Advance moves the virtual clock forward by d and synchronously fires
// every pending task whose due time falls within the advance, in
// ascending due order with ties broken by scheduling order. While a task
// fires the clock reads its due time, so a repeating task re-arms at
// due + delay and work scheduled by a firing task joins the same advance
// when it comes due within it. Firing errors are collected and returned
// after all due tasks have fired, so the caller observes failures
// synchronously. Reentrant: targets may schedule and unschedule.
func (s *VirtualScheduler) Advance(d time.Duration) error {
	if d < 0 {
		return core.InvalidDelayError{Delay: d}
	}

	s.mu.Lock()
	target := s.now + d

	var errs *multierror.Error
	for {
		task := s.popDueLocked(target)
		if task == nil {
			break
		}
		if task.due > s.now {
			s.now = task.due
		}
		if !task.repeat {
			// One-shot tasks retire on firing: Pending -> Cancelled.
			task.cancelled = true
		}

		// Release the lock around the firing so the target can re-enter
		// ScheduleTask and Unschedule.
		s.mu.Unlock()
		err := task.target()
		s.mu.Lock()

		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("scheduled task failed at %s: %w", s.now, err))
		}
		if task.repeat && !task.cancelled {
			task.due += task.delay
			heap.Push(&s.tasks, task)
		}
	}

	if target > s.now {
		s.now = target
	}
	s.mu.Unlock()

	return errs.ErrorOrNil()
}

// Reset clears all tasks and returns the clock to zero, for reuse
// between independent test runs.
func (s *VirtualScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		task.cancelled = true
	}
	s.tasks = nil
	s.now = 0
}

// PendingCount returns how many tasks are armed.
func (s *VirtualScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, task := range s.tasks {
		if !task.cancelled {
			count++
		}
	}
	return count
}

// popDueLocked removes and returns the earliest pending task due at or
// before target, discarding cancelled tasks along the way. Returns nil
// when nothing further is due.
func (s *VirtualScheduler) popDueLocked(target time.Duration) *scheduledTask {
	for s.tasks.Len() > 0 {
		earliest := s.tasks[0]
		if earliest.cancelled {
			heap.Pop(&s.tasks)
			continue
		}
		if earliest.due > target {
			return nil
		}
		return heap.Pop(&s.tasks).(*scheduledTask)
	}
	return nil
}

// taskHeap orders tasks by due time, then by scheduling order.
type taskHeap []*scheduledTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*scheduledTask))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
