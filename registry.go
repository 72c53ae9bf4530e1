package servicetest

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nioinnovation/service-tests/core"
)

// BlockFactory instantiates a block of one type. Factories are
// registered explicitly by type name; there is no reflection-based
// discovery.
type BlockFactory func() core.Block

// InstrumentedBlock composes a block with ledger-update-and-notify
// behavior. Any invocation of its processing entry point, whether
// through the router or directly from test code, is recorded in the
// ledger and fires the block's completion event, without the wrapped
// block's own code being aware of the harness.
type InstrumentedBlock struct {
	inner  core.Block
	ledger *ProcessedLedger
}

// Name returns the wrapped block's name.
func (b *InstrumentedBlock) Name() string { return b.inner.Name() }

// ID returns the wrapped block's id.
func (b *InstrumentedBlock) ID() string { return b.inner.ID() }

// Configure delegates to the wrapped block.
func (b *InstrumentedBlock) Configure(ctx core.BlockContext) error {
	return b.inner.Configure(ctx)
}

// Start delegates to the wrapped block.
func (b *InstrumentedBlock) Start() error { return b.inner.Start() }

// Stop delegates to the wrapped block.
func (b *InstrumentedBlock) Stop() error { return b.inner.Stop() }

// Inner returns the wrapped block.
func (b *InstrumentedBlock) Inner() core.Block { return b.inner }

// ProcessSignals runs the wrapped block's entry point, then records the
// batch in the ledger and fires the completion event. On error nothing
// is recorded; a failed batch never counts as processed.
func (b *InstrumentedBlock) ProcessSignals(signals []core.Signal, inputID string) error {
	return b.process(signals, signals, inputID)
}

// process runs the entry point with the delivered batch and, on success,
// records the recorded batch. The router passes the per-receiver clone
// as delivered and the original pre-copy batch as recorded, so test
// assertions compare against what was emitted rather than whatever the
// receiver did to its copy.
func (b *InstrumentedBlock) process(delivered, recorded []core.Signal, inputID string) error {
	if err := b.inner.ProcessSignals(delivered, inputID); err != nil {
		return err
	}
	b.ledger.Append(b.inner.ID(), inputID, recorded)
	return nil
}

// Registry maps block names to instantiated, instrumented blocks for the
// duration of a test. The router holds only lookup references into it.
type Registry struct {
	mu      sync.Mutex
	order   []string
	blocks  map[string]*InstrumentedBlock
	ledger  *ProcessedLedger
	logger  zerolog.Logger
	started bool
}

// RegistryConfig holds registry configuration
type RegistryConfig struct {
	Logger zerolog.Logger
}

// NewRegistry creates an empty registry with its own ledger.
func NewRegistry(config RegistryConfig) *Registry {
	return &Registry{
		blocks: make(map[string]*InstrumentedBlock),
		ledger: NewProcessedLedger(),
		logger: config.Logger,
	}
}

// Add instruments and registers a block under its name.
func (r *Registry) Add(block core.Block) (*InstrumentedBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := block.Name()
	if name == "" {
		return nil, fmt.Errorf("block must have a name")
	}
	if _, exists := r.blocks[name]; exists {
		return nil, fmt.Errorf("block %q already registered", name)
	}

	instrumented := &InstrumentedBlock{inner: block, ledger: r.ledger}
	r.blocks[name] = instrumented
	r.order = append(r.order, name)
	return instrumented, nil
}

// Block returns the instrumented block registered under name.
func (r *Registry) Block(name string) (*InstrumentedBlock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	block, ok := r.blocks[name]
	return block, ok
}

// Resolve looks a block up by name first, then by id.
func (r *Registry) Resolve(identifier string) (*InstrumentedBlock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if block, ok := r.blocks[identifier]; ok {
		return block, true
	}
	for _, block := range r.blocks {
		if block.ID() == identifier {
			return block, true
		}
	}
	return nil, false
}

// Names returns the registered block names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Ledger returns the registry's processed-signal ledger.
func (r *Registry) Ledger() *ProcessedLedger {
	return r.ledger
}

// StartAll starts every block in registration order. Starting an
// already-started registry is a no-op.
func (r *Registry) StartAll() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		r.logger.Warn().Msg("service already started, cannot start again")
		return nil
	}
	r.started = true
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	for _, name := range names {
		block := r.blocks[name]
		if err := block.Start(); err != nil {
			return fmt.Errorf("failed to start block %q: %w", name, err)
		}
		r.logger.Debug().Str("block", name).Msg("block started")
	}
	return nil
}

// StopAll stops every started block in registration order, continuing
// past individual failures and returning the first error.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := r.blocks[name].Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop block %q: %w", name, err)
		}
	}
	return firstErr
}
