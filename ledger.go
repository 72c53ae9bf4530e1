package servicetest

import (
	"sync"
	"time"

	"github.com/nioinnovation/service-tests/core"
)

// completionEvent is a reusable edge-triggered wake-up primitive. Set
// wakes every waiter blocked at that moment and immediately re-arms, so
// waiters blocked at different times each observe a distinct completion
// rather than a stale "already set" flag.
type completionEvent struct {
	mu sync.Mutex
	ch chan struct{}
}

func newCompletionEvent() *completionEvent {
	return &completionEvent{ch: make(chan struct{})}
}

// Set wakes all current waiters and re-arms the event.
func (e *completionEvent) Set() {
	e.mu.Lock()
	close(e.ch)
	e.ch = make(chan struct{})
	e.mu.Unlock()
}

// channel returns the current generation's channel. A waiter that grabs
// the channel before checking its condition cannot miss a Set that races
// with the check.
func (e *completionEvent) channel() <-chan struct{} {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	return ch
}

// Wait blocks until the next Set or the timeout, whichever comes first.
// Returns false on timeout.
func (e *completionEvent) Wait(timeout time.Duration) bool {
	select {
	case <-e.channel():
		return true
	case <-time.After(timeout):
		return false
	}
}

// ProcessedLedger records, per block and per block+input, the signals
// each block has finished processing. Entries are appended only after
// the block's processing entry point has returned for the batch, and are
// cleared only at harness teardown.
type ProcessedLedger struct {
	mu      sync.Mutex
	byBlock map[string][]core.Signal
	byInput map[string]map[string][]core.Signal
	events  map[string]*completionEvent
}

// NewProcessedLedger creates an empty ledger.
func NewProcessedLedger() *ProcessedLedger {
	return &ProcessedLedger{
		byBlock: make(map[string][]core.Signal),
		byInput: make(map[string]map[string][]core.Signal),
		events:  make(map[string]*completionEvent),
	}
}

// Append records that blockID finished processing signals on inputID and
// fires the block's completion event. The append is visible before any
// waiter woken by the event re-checks the ledger.
func (l *ProcessedLedger) Append(blockID, inputID string, signals []core.Signal) {
	l.mu.Lock()
	l.byBlock[blockID] = append(l.byBlock[blockID], signals...)
	inputs, ok := l.byInput[blockID]
	if !ok {
		inputs = make(map[string][]core.Signal)
		l.byInput[blockID] = inputs
	}
	inputs[inputID] = append(inputs[inputID], signals...)
	event := l.eventLocked(blockID)
	l.mu.Unlock()

	event.Set()
}

// Signals returns a snapshot of all signals blockID has processed.
func (l *ProcessedLedger) Signals(blockID string) []core.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Signal(nil), l.byBlock[blockID]...)
}

// SignalsForInput returns a snapshot of the signals blockID has
// processed on inputID.
func (l *ProcessedLedger) SignalsForInput(blockID, inputID string) []core.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Signal(nil), l.byInput[blockID][inputID]...)
}

// Count returns how many signals blockID has processed.
func (l *ProcessedLedger) Count(blockID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byBlock[blockID])
}

// CountForInput returns how many signals blockID has processed on
// inputID.
func (l *ProcessedLedger) CountForInput(blockID, inputID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byInput[blockID][inputID])
}

// WaitForProcessed blocks until blockID's ledger holds at least count
// signals (on inputID when non-empty, across all inputs otherwise) or
// until timeout. A count of zero waits for the very next completion
// instead of any particular count. Returns false when the condition was
// not satisfied within the timeout; the caller decides whether that is a
// failure.
func (l *ProcessedLedger) WaitForProcessed(blockID string, count int, timeout time.Duration, inputID string) bool {
	event := l.Event(blockID)
	if count <= 0 {
		return event.Wait(timeout)
	}

	deadline := time.Now().Add(timeout)
	for {
		// Grab the event generation before checking the count so a
		// completion racing with the check still wakes us.
		ch := event.channel()
		if l.countFor(blockID, inputID) >= count {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			return l.countFor(blockID, inputID) >= count
		}
	}
}

// Event returns blockID's completion event, creating it on first use.
func (l *ProcessedLedger) Event(blockID string) *completionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventLocked(blockID)
}

// Clear drops all ledger entries. Called at harness teardown.
func (l *ProcessedLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byBlock = make(map[string][]core.Signal)
	l.byInput = make(map[string]map[string][]core.Signal)
}

func (l *ProcessedLedger) countFor(blockID, inputID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if inputID != "" {
		return len(l.byInput[blockID][inputID])
	}
	return len(l.byBlock[blockID])
}

func (l *ProcessedLedger) eventLocked(blockID string) *completionEvent {
	event, ok := l.events[blockID]
	if !ok {
		event = newCompletionEvent()
		l.events[blockID] = event
	}
	return event
}
