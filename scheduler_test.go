package servicetest

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/nioinnovation/service-tests/core"
)

// TestSchedulerOneShotBoundary tests that a one-shot task does not fire
// just short of its delay and fires once the delay is fully covered.
func TestSchedulerOneShotBoundary(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	if _, err := s.ScheduleTask(func() error { fired++; return nil }, 10*time.Second, false); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	if err := s.Advance(10*time.Second - time.Nanosecond); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 0 {
		t.Fatalf("task fired %d times before its delay elapsed", fired)
	}

	if err := s.Advance(time.Nanosecond); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("task fired %d times, want 1", fired)
	}

	// A retired one-shot never fires again.
	if err := s.Advance(time.Hour); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("one-shot task fired %d times, want 1", fired)
	}
}

// TestSchedulerRepeatingFiresPerPeriod tests that advancing three full
// periods fires a repeating task exactly three times.
func TestSchedulerRepeatingFiresPerPeriod(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	if _, err := s.ScheduleTask(func() error { fired++; return nil }, time.Minute, true); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	if err := s.Advance(3 * time.Minute); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 3 {
		t.Fatalf("task fired %d times, want 3", fired)
	}
	if s.Now() != 3*time.Minute {
		t.Errorf("clock reads %s, want 3m", s.Now())
	}
}

// TestSchedulerZeroAdvanceFiresNothing tests that time never moves on
// its own: without an advance, nothing fires.
func TestSchedulerZeroAdvanceFiresNothing(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	if _, err := s.ScheduleTask(func() error { fired++; return nil }, time.Millisecond, true); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("task fired %d times without an advance", fired)
	}
}

// TestSchedulerCancelBeforeDue tests that a cancelled job never fires.
func TestSchedulerCancelBeforeDue(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	job, err := s.ScheduleTask(func() error { fired++; return nil }, time.Second, true)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	job.Cancel()
	job.Cancel() // idempotent

	if err := s.Advance(time.Hour); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 0 {
		t.Fatalf("cancelled task fired %d times", fired)
	}
	if s.PendingCount() != 0 {
		t.Errorf("%d tasks still pending after cancel", s.PendingCount())
	}
}

// TestSchedulerCancelDuringFiring tests that a repeating task cancelling
// itself mid-firing completes that firing and never re-arms.
func TestSchedulerCancelDuringFiring(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	var job core.ScheduledJob
	job, err := s.ScheduleTask(func() error {
		fired++
		job.Cancel()
		return nil
	}, time.Second, true)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	if err := s.Advance(10 * time.Second); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("self-cancelling task fired %d times, want 1", fired)
	}
}

// TestSchedulerReentrantScheduling tests that a firing task can schedule
// more work, and that work joins the same advance when it comes due
// within it.
func TestSchedulerReentrantScheduling(t *testing.T) {
	s := NewVirtualScheduler()
	var order []string
	_, err := s.ScheduleTask(func() error {
		order = append(order, "outer")
		_, innerErr := s.ScheduleTask(func() error {
			order = append(order, "inner")
			return nil
		}, time.Second, false)
		return innerErr
	}, time.Second, false)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	// Outer fires at 1s, inner is armed for 2s, still inside the window.
	if err := s.Advance(3 * time.Second); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("got firing order %v, want [outer inner]", order)
	}
}

// TestSchedulerNegativeDelay tests that a negative delay is rejected
// with InvalidDelayError.
func TestSchedulerNegativeDelay(t *testing.T) {
	s := NewVirtualScheduler()
	_, err := s.ScheduleTask(func() error { return nil }, -time.Second, false)
	var delayErr core.InvalidDelayError
	if !errors.As(err, &delayErr) {
		t.Fatalf("got %v, want InvalidDelayError", err)
	}

	if err := s.Advance(-time.Second); !errors.As(err, &delayErr) {
		t.Fatalf("negative advance returned %v, want InvalidDelayError", err)
	}
}

// TestSchedulerZeroDelayRepeating tests that a zero delay is rejected
// for repeatable tasks: a zero-period task would come due again at the
// same instant forever and Advance would never return.
func TestSchedulerZeroDelayRepeating(t *testing.T) {
	s := NewVirtualScheduler()
	_, err := s.ScheduleTask(func() error { return nil }, 0, true)
	var delayErr core.InvalidDelayError
	if !errors.As(err, &delayErr) {
		t.Fatalf("got %v, want InvalidDelayError", err)
	}
}

// TestSchedulerZeroDelayOneShot tests that a one-shot task scheduled
// with zero delay is accepted and fires on the next advance, even a
// zero-length one.
func TestSchedulerZeroDelayOneShot(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	if _, err := s.ScheduleTask(func() error { fired++; return nil }, 0, false); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if err := s.Advance(0); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("task fired %d times, want 1", fired)
	}
	if err := s.Advance(time.Second); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("one-shot task fired again, total %d", fired)
	}
}

// TestSchedulerAdvanceCollectsErrors tests that failing tasks do not
// stop the advance and their errors come back aggregated.
func TestSchedulerAdvanceCollectsErrors(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	if _, err := s.ScheduleTask(func() error { return errors.New("boom") }, time.Second, false); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if _, err := s.ScheduleTask(func() error { fired++; return nil }, 2*time.Second, false); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	err := s.Advance(5 * time.Second)
	if err == nil {
		t.Fatal("advance swallowed the task error")
	}
	if fired != 1 {
		t.Fatalf("later task fired %d times, want 1; a failing task must not stop the advance", fired)
	}
}

// TestSchedulerOrdering tests that tasks fire in due order with ties
// broken by scheduling order.
func TestSchedulerOrdering(t *testing.T) {
	s := NewVirtualScheduler()
	var order []int
	record := func(n int) func() error {
		return func() error { order = append(order, n); return nil }
	}

	s.ScheduleTask(record(2), 2*time.Second, false)
	s.ScheduleTask(record(1), time.Second, false)
	s.ScheduleTask(record(3), 2*time.Second, false)

	if err := s.Advance(5 * time.Second); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("got firing order %v, want [1 2 3]", order)
	}
}

// TestSchedulerReset tests that Reset clears all tasks and the clock.
func TestSchedulerReset(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	s.ScheduleTask(func() error { fired++; return nil }, time.Second, true)
	if err := s.Advance(time.Second); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	s.Reset()
	if s.Now() != 0 {
		t.Errorf("clock reads %s after reset, want 0", s.Now())
	}
	if s.PendingCount() != 0 {
		t.Errorf("%d tasks pending after reset", s.PendingCount())
	}

	if err := s.Advance(time.Hour); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("task fired %d times, want only the pre-reset firing", fired)
	}
}

// TestJobJumpAhead tests that a job handle advances the shared clock.
func TestJobJumpAhead(t *testing.T) {
	s := NewVirtualScheduler()
	fired := 0
	job, err := s.ScheduleTask(func() error { fired++; return nil }, time.Second, false)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	if err := job.JumpAhead(time.Second); err != nil {
		t.Fatalf("jump failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("task fired %d times, want 1", fired)
	}
	if s.Now() != time.Second {
		t.Errorf("clock reads %s, want 1s", s.Now())
	}
}

// TestPropertySchedulerRepeatingCount tests that advancing by d fires a
// repeating task with period p exactly floor(d/p) times.
func TestPropertySchedulerRepeatingCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		period := time.Duration(rapid.Int64Range(1, 1_000_000).Draw(rt, "period"))
		advance := time.Duration(rapid.Int64Range(0, 50_000_000).Draw(rt, "advance"))

		s := NewVirtualScheduler()
		fired := int64(0)
		if _, err := s.ScheduleTask(func() error { fired++; return nil }, period, true); err != nil {
			rt.Fatalf("schedule failed: %v", err)
		}
		if err := s.Advance(advance); err != nil {
			rt.Fatalf("advance failed: %v", err)
		}

		want := int64(advance / period)
		if fired != want {
			rt.Fatalf("advance(%d) with period %d fired %d times, want %d", advance, period, fired, want)
		}
	})
}
