package servicetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/nioinnovation/service-tests/core"
)

// SignalRouter fans emitted signal batches out to downstream blocks
// according to the execution graph's receiver maps. Each receiver gets
// an independent deep copy of the batch, dispatched on that receiver's
// own serial queue, so distinct receivers interleave freely while each
// one processes its batches in dispatch order.
type SignalRouter struct {
	logger zerolog.Logger

	graph    core.ExecutionGraph
	registry *Registry

	dispatchers map[string]*dispatcher
	inFlight    sync.WaitGroup

	mu         sync.Mutex
	errs       *multierror.Error
	configured bool
}

// RouterConfig holds signal router configuration
type RouterConfig struct {
	Logger zerolog.Logger
}

// NewSignalRouter creates an unconfigured router.
func NewSignalRouter(config RouterConfig) *SignalRouter {
	return &SignalRouter{
		logger:      config.Logger,
		dispatchers: make(map[string]*dispatcher),
	}
}

// Configure binds the router to a resolved execution graph and block
// registry. It validates that every receiver target exists in the
// registry, then starts one dispatch worker per block. Must be called
// exactly once before any dispatch; not safe to call concurrently with
// dispatch operations.
func (r *SignalRouter) Configure(graph core.ExecutionGraph, registry *Registry) error {
	if r.configured {
		return fmt.Errorf("router already configured")
	}

	for _, spec := range graph {
		for outputID, receivers := range spec.Receivers {
			for _, receiver := range receivers {
				if _, ok := registry.Block(receiver.Name); !ok {
					return core.RoutingError{
						Block: spec.Name,
						Reason: fmt.Sprintf("output %q routes to block %q which is not in the registry",
							outputID, receiver.Name),
					}
				}
			}
		}
	}

	r.graph = graph
	r.registry = registry
	for _, name := range registry.Names() {
		d := newDispatcher()
		r.dispatchers[name] = d
		go d.run()
	}
	r.configured = true
	return nil
}

// NotifySignals fans a batch emitted by source on outputID out to its
// receivers. Receivers registered under the exact output win; otherwise
// the default-terminal receivers apply; with neither, the block is a
// terminal and the call is a no-op. Each receiver's dispatch is launched
// on its serial queue with an independent deep copy of the batch;
// NotifySignals returns once every dispatch has been launched, not once
// they have completed. An emitter absent from the graph, or a receiver
// absent from the registry, is a synchronous RoutingError.
func (r *SignalRouter) NotifySignals(source core.Block, signals []core.Signal, outputID string) error {
	if !r.configured {
		return fmt.Errorf("router not configured")
	}

	fromName := source.Name()
	receivers, err := r.graph.ReceiversFor(fromName, outputID)
	if err != nil {
		return err
	}

	// Resolve every receiver before launching anything: a bad target
	// fails the whole call, not half of it.
	targets := make([]*InstrumentedBlock, len(receivers))
	for i, receiver := range receivers {
		target, ok := r.registry.Block(receiver.Name)
		if !ok {
			return core.RoutingError{
				Block:  fromName,
				Reason: fmt.Sprintf("receiver block %q is not in the registry", receiver.Name),
			}
		}
		targets[i] = target
	}

	for i, receiver := range receivers {
		r.logger.Debug().
			Str("from", fromName).
			Str("to", receiver.Name).
			Str("output", outputID).
			Msg("dispatching signals")

		r.inFlight.Add(1)
		r.dispatchers[receiver.Name].enqueue(dispatch{
			router:   r,
			target:   targets[i],
			original: signals,
			clone:    core.CopyBatch(signals),
			inputID:  receiver.Input,
		})
	}
	return nil
}

// WaitForProcessed blocks until the identified block's ledger satisfies
// count, or timeout. See ProcessedLedger.WaitForProcessed.
func (r *SignalRouter) WaitForProcessed(blockID string, count int, timeout time.Duration, inputID string) bool {
	return r.registry.Ledger().WaitForProcessed(blockID, count, timeout, inputID)
}

// Ledger returns the processed-signal ledger the router records into.
func (r *SignalRouter) Ledger() *ProcessedLedger {
	return r.registry.Ledger()
}

// Err returns the processing errors accumulated from dispatched tasks,
// nil when none occurred. Dispatch errors are never propagated to the
// emitter; the harness surfaces them as a test failure at teardown.
func (r *SignalRouter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs.ErrorOrNil()
}

// Drain blocks until every launched dispatch has completed, or timeout.
// Returns false when dispatches were still in flight at the deadline.
func (r *SignalRouter) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown stops all dispatch workers. Queued dispatches are executed
// before each worker exits.
func (r *SignalRouter) Shutdown() {
	for _, d := range r.dispatchers {
		d.close()
	}
}

func (r *SignalRouter) recordError(err error) {
	r.mu.Lock()
	r.errs = multierror.Append(r.errs, err)
	r.mu.Unlock()
}

// dispatch is one unit of fan-out work: deliver the clone to the target
// block's entry point, then record the original batch in the ledger.
type dispatch struct {
	router   *SignalRouter
	target   *InstrumentedBlock
	original []core.Signal
	clone    []core.Signal
	inputID  string
}

func (d dispatch) execute() {
	defer d.router.inFlight.Done()

	if err := d.target.process(d.clone, d.original, d.inputID); err != nil {
		processingErr := core.ProcessingError{
			Block: d.target.Name(),
			Input: d.inputID,
			Err:   err,
		}
		d.router.logger.Error().Err(err).
			Str("block", d.target.Name()).
			Str("input", d.inputID).
			Msg("block processing failed")
		d.router.recordError(processingErr)
	}
}

// dispatcher is a single-consumer serial queue for one destination
// block. One worker per destination gives each receiver FIFO processing
// of the batches routed to it, while enqueue never blocks the emitter.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []dispatch
	closed bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) enqueue(item dispatch) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		item.router.inFlight.Done()
		return
	}
	d.queue = append(d.queue, item)
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		item.execute()
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}
