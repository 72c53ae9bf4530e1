package core

import (
	"fmt"
	"time"
)

// RoutingError reports a graph inconsistency: a source block absent from
// the execution graph, or a receiver target absent from the registry.
// It indicates a configuration error in the caller and is fatal to the
// triggering call.
type RoutingError struct {
	Block  string
	Reason string
}

func (e RoutingError) Error() string {
	return fmt.Sprintf("routing failed for block %q: %s", e.Block, e.Reason)
}

// InvalidDelayError reports an unusable task delay: negative for any
// task, or zero for a repeating one.
type InvalidDelayError struct {
	Delay time.Duration
}

func (e InvalidDelayError) Error() string {
	return fmt.Sprintf("invalid task delay %s", e.Delay)
}

// ProcessingError reports a failure inside a receiver's processing entry
// point during dispatch. The router records it instead of propagating it
// back to the emitter.
type ProcessingError struct {
	Block string
	Input string
	Err   error
}

func (e ProcessingError) Error() string {
	if e.Input != "" && e.Input != DefaultTerminal {
		return fmt.Sprintf("block %q failed processing signals on input %q: %v", e.Block, e.Input, e.Err)
	}
	return fmt.Sprintf("block %q failed processing signals: %v", e.Block, e.Err)
}

func (e ProcessingError) Unwrap() error {
	return e.Err
}
